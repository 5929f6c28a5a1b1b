package humanize

import (
	"embed"
	"fmt"
	"path"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var localeFiles embed.FS

// DefaultLocale is used when a requested locale has no bundle.
const DefaultLocale = "en"

// Args are the named values interpolated into a message as {{name}}.
type Args map[string]any

// Translator resolves message keys.
type Translator interface {
	T(key string, args Args) string
}

// Locale is a message bundle loaded from an embedded YAML file. Nested YAML
// mappings become dotted keys.
type Locale struct {
	Tag      string
	messages map[string]string
	plural   func(n int) string
}

// Load reads the bundle for tag ("en", "ru"). Region suffixes are ignored, so
// "ru-RU" loads "ru".
func Load(tag string) (*Locale, error) {
	base := strings.ToLower(strings.SplitN(strings.ReplaceAll(tag, "_", "-"), "-", 2)[0])
	data, err := localeFiles.ReadFile(path.Join("locales", base+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("unknown locale %q", tag)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse locale %s: %w", base, err)
	}
	l := &Locale{Tag: base, messages: make(map[string]string), plural: pluralRules[base]}
	if l.plural == nil {
		l.plural = pluralEnglish
	}
	if len(root.Content) > 0 {
		if err := flatten(root.Content[0], "", l.messages); err != nil {
			return nil, fmt.Errorf("parse locale %s: %w", base, err)
		}
	}
	return l, nil
}

// LoadOrDefault returns the bundle for tag, falling back to DefaultLocale.
func LoadOrDefault(tag string) *Locale {
	if l, err := Load(tag); err == nil {
		return l
	}
	l, err := Load(DefaultLocale)
	if err != nil {
		panic(err)
	}
	return l
}

// Available lists the embedded locale tags.
func Available() []string {
	entries, _ := localeFiles.ReadDir("locales")
	var tags []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".yaml"); ok {
			tags = append(tags, name)
		}
	}
	slices.Sort(tags)
	return tags
}

func flatten(n *yaml.Node, prefix string, out map[string]string) error {
	switch n.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i].Value
			if prefix != "" {
				key = prefix + "." + key
			}
			if err := flatten(n.Content[i+1], key, out); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		out[prefix] = n.Value
	default:
		return fmt.Errorf("key %s: expected a mapping or a string", prefix)
	}
	return nil
}

// T looks up key and interpolates args. A "count" argument selects a plural
// form (key_one, key_few, key_many, key_other) when the bundle has one. Unknown
// keys render as the key itself.
func (l *Locale) T(key string, args Args) string {
	msg, ok := l.lookup(key, args)
	if !ok {
		return key
	}
	return interpolate(msg, args)
}

// Has reports whether the bundle defines key in any plural form.
func (l *Locale) Has(key string) bool {
	_, ok := l.lookup(key, Args{"count": 1})
	return ok
}

func (l *Locale) lookup(key string, args Args) (string, bool) {
	if n, ok := countArg(args); ok {
		if msg, ok := l.messages[key+"_"+l.plural(n)]; ok {
			return msg, true
		}
		if msg, ok := l.messages[key+"_other"]; ok {
			return msg, true
		}
	}
	msg, ok := l.messages[key]
	return msg, ok
}

func countArg(args Args) (int, bool) {
	switch v := args["count"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	}
	return 0, false
}

func interpolate(msg string, args Args) string {
	if len(args) == 0 || !strings.Contains(msg, "{{") {
		return msg
	}
	var b strings.Builder
	for {
		start := strings.Index(msg, "{{")
		if start < 0 {
			break
		}
		end := strings.Index(msg[start:], "}}")
		if end < 0 {
			break
		}
		name := strings.TrimSpace(msg[start+2 : start+end])
		b.WriteString(msg[:start])
		if v, ok := args[name]; ok {
			fmt.Fprint(&b, v)
		} else {
			b.WriteString(msg[start : start+end+2])
		}
		msg = msg[start+end+2:]
	}
	b.WriteString(msg)
	return b.String()
}

var pluralRules = map[string]func(int) string{
	"en": pluralEnglish,
	"ru": pluralRussian,
}

func pluralEnglish(n int) string {
	if n == 1 {
		return "one"
	}
	return "other"
}

func pluralRussian(n int) string {
	if n < 0 {
		n = -n
	}
	switch mod10, mod100 := n%10, n%100; {
	case mod10 == 1 && mod100 != 11:
		return "one"
	case mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14):
		return "few"
	}
	return "many"
}
