package admin

import (
	"context"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Languages the UI strings are translated into. English is the source language.
var Languages = []language.Tag{language.English, language.SimplifiedChinese}

var (
	messages = newCatalog()
	matcher  = language.NewMatcher(Languages)
	titler   = cases.Title(language.Und)
)

func newCatalog() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	zh := map[string]string{
		"Yes":     "是",
		"No":      "否",
		"View":    "查看",
		"Edit":    "编辑",
		"Delete":  "删除",
		"Actions": "操作",
		"Are you sure you want to delete this item?": "确定要删除此项吗？",

		"Instance":          "实例",
		"Instances":         "实例",
		"VPC":               "VPC",
		"VPCs":              "VPC",
		"ID":                "ID",
		"Account":           "账户",
		"Region":            "区域",
		"Instance ID":       "实例ID",
		"Instance Name":     "实例名称",
		"IP Address":        "IP地址",
		"Security Group ID": "安全组ID",
		"State":             "状态",
		"Create Time":       "创建时间",
		"VPC ID":            "VPC ID",
		"VPC Name":          "VPC 名称",
		"Running":           "运行中",
		"Stopped":           "已停止",
		"Pending":           "启动中",
		"Terminated":        "已终止",

		"Permission denied": "权限不足",
		"Not found":         "未找到",
		"Server error":      "服务器错误",

		"Model not found":      "模型不存在",
		"ModelAdmin not found": "未注册管理配置",
		"object not found":     "对象不存在",

		"You do not have permission to view this object.": "您没有查看此对象的权限。",

		"Unable to render this object.": "无法渲染此对象。",
	}
	for key, msg := range zh {
		_ = b.SetString(language.SimplifiedChinese, key, msg)
	}
	return b
}

type languageKey struct{}

// WithLanguage returns a context whose UI strings are rendered in tag.
func WithLanguage(ctx context.Context, tag language.Tag) context.Context {
	return context.WithValue(ctx, languageKey{}, tag)
}

// LanguageFrom returns the UI language in ctx, English when unset.
func LanguageFrom(ctx context.Context) language.Tag {
	if tag, ok := ctx.Value(languageKey{}).(language.Tag); ok {
		return tag
	}
	return language.English
}

// MatchLanguage picks the best supported language for an Accept-Language
// header, falling back to fallback when nothing matches.
func MatchLanguage(acceptLanguage string, fallback language.Tag) language.Tag {
	if strings.TrimSpace(acceptLanguage) == "" {
		return fallback
	}
	tags, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(tags) == 0 {
		return fallback
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return fallback
	}
	return Languages[idx]
}

// ParseLanguage parses a configured language name ("en", "zh", "zh-Hans").
func ParseLanguage(name string) (language.Tag, error) {
	if name == "" {
		return language.English, nil
	}
	tag, err := language.Parse(name)
	if err != nil {
		return language.Und, err
	}
	_, idx, _ := matcher.Match(tag)
	return Languages[idx], nil
}

// T translates a UI string into the language carried by ctx.
func T(ctx context.Context, key string) string {
	p := message.NewPrinter(LanguageFrom(ctx), message.Catalog(messages))
	return p.Sprintf(key)
}

// TitleCase turns a field name into a fallback label: underscores become
// spaces and every word is capitalised.
func TitleCase(name string) string {
	return titler.String(strings.ReplaceAll(name, "_", " "))
}
