package route

import (
	"fmt"

	"github.com/polisai/polis-adblock/pkg/domain"
	"github.com/polisai/polis-adblock/pkg/policy/keywords"
	"github.com/polisai/polis-adblock/pkg/policy/sanitize"
)

// Stats counter names used by the builtin routes.
const (
	CounterSplash = "splash"
	CounterConfig = "config"
	CounterFloat  = "float"
	CounterFeed   = "feed"
	CounterTrack  = "track"
)

const (
	envelopeSplash = `{"api":"mtop.taobao.idlecommerce.splash.ads","ret":["SUCCESS::调用成功"],"v":"2.0",` +
		`"data":{"result":{"success":true,"ads":[],"adList":[],"splashAds":[]}}}`
	envelopeSplashAsync = `{"api":"mtop.taobao.idlecommerce.splash.async.ads","ret":["SUCCESS::调用成功"],"v":"1.0",` +
		`"data":{"result":{"success":true,"ads":[],"adList":[],"splashAds":[]}}}`
	envelopeLaunchReport = `{"api":"mtop.idle.idleadv.app.launch.report","ret":["SUCCESS::调用成功"],"v":"1.0",` +
		`"data":{"success":true}}`
	envelopeSceneRestore = `{"api":"mtop.idle.idleadv.scene.restore","ret":["SUCCESS::调用成功"],"v":"1.0",` +
		`"data":{"result":{"success":true}}}`
)

var (
	noticeXianyuSplash = domain.Notice{Title: "🚫 已屏蔽开屏广告", Subtitle: "闲鱼去广告", Message: "开屏广告已被拦截"}
	noticeXianyuFloat  = domain.Notice{Title: "🚫 已屏蔽悬浮广告", Subtitle: "闲鱼去广告", Message: "悬浮广告组件已移除"}
)

func set(key string, act sanitize.Action) sanitize.FieldOp {
	return sanitize.FieldOp{Key: key, Action: act}
}

func signatures(id string) []string {
	for _, app := range keywords.Apps {
		if app.ID == id {
			return append([]string(nil), app.Markers...)
		}
	}
	return nil
}

// Builtin returns the JD, Pinduoduo, and Xianyu rule sets. Family-based ops
// resolve against families, which must hold the builtin family names.
func Builtin(families *keywords.FamilySet) ([]App, error) {
	fam := func(name string) (keywords.Family, error) {
		f, ok := families.Lookup(name)
		if !ok {
			return keywords.Family{}, fmt.Errorf("route: unknown family %q", name)
		}
		return f, nil
	}
	adSwitch, err := fam(keywords.FamilyAdSwitch)
	if err != nil {
		return nil, err
	}
	launch, err := fam(keywords.FamilyLaunch)
	if err != nil {
		return nil, err
	}
	adConfig, err := fam(keywords.FamilyAdConfig)
	if err != nil {
		return nil, err
	}
	adTracking, err := fam(keywords.FamilyAdTracking)
	if err != nil {
		return nil, err
	}

	return []App{
		{
			ID:         "jd",
			Name:       "JD",
			Signatures: signatures("jd"),
			Routes: []Route{
				{
					Key:      "jd.splash",
					Patterns: []string{"functionId=start", "functionId=queryMaterialAdverts"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterSplash,
					Targets: []sanitize.Target{
						{Path: []string{"data"}, Fields: []sanitize.FieldOp{
							set("ads", sanitize.ActionEmptyArray),
							set("adList", sanitize.ActionEmptyArray),
							set("splashAd", sanitize.ActionNull),
							set("splash", sanitize.ActionNull),
							set("advertise", sanitize.ActionNull),
						}},
						{Fields: []sanitize.FieldOp{
							set("ads", sanitize.ActionEmptyArray),
							set("adList", sanitize.ActionEmptyArray),
						}},
					},
				},
				{
					Key:      "jd.ad-config",
					Patterns: []string{"functionId=getAdConfig", "functionId=getAdvertising"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterConfig,
					Targets: []sanitize.Target{
						{Fields: []sanitize.FieldOp{set("data", sanitize.ActionEmptyObject)}},
					},
				},
				{
					Key:      "jd.basic-config",
					Patterns: []string{"functionId=basicConfig"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterConfig,
					Targets: []sanitize.Target{
						{Path: []string{"data"}, Fields: []sanitize.FieldOp{
							set("launchAd", sanitize.ActionNull),
							set("splashAd", sanitize.ActionNull),
							set("startupAd", sanitize.ActionNull),
							set("adConfig", sanitize.ActionEmptyObject),
						}},
					},
				},
				{
					Key:      "jd.bubble",
					Patterns: []string{"functionId=getBubbleInfo"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterFloat,
					Targets: []sanitize.Target{
						{Path: []string{"data"}, Fields: []sanitize.FieldOp{
							set("bubbleList", sanitize.ActionEmptyArray),
							set("list", sanitize.ActionEmptyArray),
						}},
					},
				},
				{
					Key:      "jd.switch",
					Patterns: []string{"functionId=switchQuery"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterConfig,
					Targets: []sanitize.Target{
						{Path: []string{"data"}, Fields: []sanitize.FieldOp{
							{Family: adSwitch, Action: sanitize.ActionFalse},
						}},
					},
				},
				{
					Key:      "jd.xview",
					Patterns: []string{"functionId=xview2Config"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterConfig,
					Targets: []sanitize.Target{
						{Path: []string{"data"}, Fields: []sanitize.FieldOp{
							set("adList", sanitize.ActionEmptyArray),
						}},
					},
				},
			},
		},
		{
			ID:         "pdd",
			Name:       "Pinduoduo",
			Signatures: signatures("pdd"),
			Routes: []Route{
				{
					Key:      "pdd.abtest",
					Patterns: []string{"/abtest", "/experiment"},
					Strategy: domain.StrategyRecursiveSanitize,
					Counter:  CounterConfig,
					Targets: []sanitize.Target{
						{Fields: []sanitize.FieldOp{{Family: launch, Action: sanitize.ActionKind}}},
					},
				},
				{
					Key:      "pdd.mobile-config",
					Patterns: []string{"/mobile_config/"},
					Strategy: domain.StrategyRecursiveSanitize,
					Counter:  CounterConfig,
					Targets: []sanitize.Target{
						{Fields: []sanitize.FieldOp{{Family: adConfig, Action: sanitize.ActionKindContainers}}},
					},
				},
				{
					Key:      "pdd.home",
					Patterns: []string{"/alexa/"},
					Strategy: domain.StrategyRecursiveSanitize,
					Counter:  CounterFeed,
					Targets: []sanitize.Target{
						{
							Fields: []sanitize.FieldOp{
								set("ads", sanitize.ActionEmptyArray),
								set("adList", sanitize.ActionEmptyArray),
								set("floatAd", sanitize.ActionNull),
								set("popupAd", sanitize.ActionNull),
							},
							Lists: []sanitize.ListOp{
								{Key: "banners", Discriminators: []string{"type"}, Markers: []string{"ad"}, Flags: []string{"adType"}},
							},
						},
					},
				},
			},
		},
		{
			ID:         "xianyu",
			Name:       "Xianyu",
			Signatures: signatures("xianyu"),
			Routes: []Route{
				{
					Key:      "xianyu.splash",
					Patterns: []string{"idlecommerce.splash.ads"},
					Strategy: domain.StrategySyntheticReplace,
					Envelope: []byte(envelopeSplash),
					Counter:  CounterSplash,
					Notice:   noticeXianyuSplash,
				},
				{
					Key:      "xianyu.splash-async",
					Patterns: []string{"idlecommerce.splash.async.ads"},
					Strategy: domain.StrategySyntheticReplace,
					Envelope: []byte(envelopeSplashAsync),
					Counter:  CounterSplash,
					Notice:   noticeXianyuSplash,
				},
				{
					Key:      "xianyu.launch-report",
					Patterns: []string{"idleadv.app.launch.report"},
					Strategy: domain.StrategySyntheticReplace,
					Envelope: []byte(envelopeLaunchReport),
					Counter:  CounterTrack,
				},
				{
					Key:      "xianyu.scene-restore",
					Patterns: []string{"idleadv.scene.restore"},
					Strategy: domain.StrategySyntheticReplace,
					Envelope: []byte(envelopeSceneRestore),
					Counter:  CounterTrack,
				},
				{
					Key:      "xianyu.ab-config",
					Patterns: []string{"idle.ab.config.get"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterConfig,
					Targets: []sanitize.Target{
						{Path: []string{"data", "result"}, Fields: []sanitize.FieldOp{
							{Family: adSwitch, Action: sanitize.ActionFalse},
						}},
					},
				},
				{
					Key:      "xianyu.strategy",
					Patterns: []string{"user.strategy.list"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterFloat,
					Notice:   noticeXianyuFloat,
					Targets: []sanitize.Target{
						{
							Path: []string{"data"},
							Fields: []sanitize.FieldOp{
								set("strategyList", sanitize.ActionEmptyArray),
								set("list", sanitize.ActionEmptyArray),
								set("floatBall", sanitize.ActionNull),
								set("popup", sanitize.ActionNull),
								set("bubble", sanitize.ActionNull),
							},
							Lists: []sanitize.ListOp{{
								Key:            "strategies",
								Discriminators: []string{"type"},
								Markers:        []string{},
								DropTypes:      []string{"FLOAT_LAYER", "POPUP", "MODAL", "BANNER"},
								KeepTypes:      []string{"BIZ_PUBLISH_BALL"},
							}},
						},
					},
				},
				{
					Key:      "xianyu.circle",
					Patterns: []string{"home.circle.list"},
					Strategy: domain.StrategyRecursiveSanitize,
					Counter:  CounterTrack,
					Targets: []sanitize.Target{
						{Fields: []sanitize.FieldOp{{Family: adTracking, Action: sanitize.ActionDelete}}},
						{
							Path:    []string{"data"},
							Shallow: true,
							Lists: []sanitize.ListOp{
								{Key: "list", Discriminators: []string{"type", "bizType"}},
							},
						},
					},
				},
				{
					Key:      "xianyu.feed",
					Patterns: []string{"home.nextfresh"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterFeed,
					Targets: []sanitize.Target{
						{
							Path: []string{"data"},
							Fields: []sanitize.FieldOp{
								set("ads", sanitize.ActionEmptyArray),
								set("adList", sanitize.ActionEmptyArray),
								set("bannerAd", sanitize.ActionNull),
								set("insertAd", sanitize.ActionNull),
							},
							Lists: []sanitize.ListOp{{Key: "list"}},
						},
					},
				},
				{
					Key:      "xianyu.activity",
					Patterns: []string{"activity.query"},
					Strategy: domain.StrategyFilterList,
					Counter:  CounterFeed,
					Targets: []sanitize.Target{
						{Path: []string{"data"}, Lists: []sanitize.ListOp{
							{Key: "activityList", Discriminators: []string{"type"}},
							{Key: "list", Discriminators: []string{"type"}},
						}},
					},
				},
				{
					Key:      "xianyu.home-config",
					Patterns: []string{"home.config"},
					Strategy: domain.StrategyClearFields,
					Counter:  CounterConfig,
					Targets: []sanitize.Target{
						{Path: []string{"data"}, Fields: []sanitize.FieldOp{
							set("adConfig", sanitize.ActionEmptyObject),
							set("splashConfig", sanitize.ActionEmptyObject),
							set("floatConfig", sanitize.ActionEmptyObject),
							set("popupConfig", sanitize.ActionEmptyObject),
						}},
					},
				},
				{
					Key:      "xianyu.host-authorize",
					Patterns: []string{"idle.host.authorize"},
					Strategy: domain.StrategyPassthrough,
				},
			},
		},
	}, nil
}

// BuiltinRuleSet compiles the builtin apps against the builtin families.
func BuiltinRuleSet() (*RuleSet, error) {
	apps, err := Builtin(keywords.BuiltinFamilies())
	if err != nil {
		return nil, err
	}
	return Compile(apps)
}
