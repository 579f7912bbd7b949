// Package i18n resolves user-facing message keys into localized text.
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var embedded embed.FS

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	Lang() string
}

// Manager stores all available translations.
type Manager struct {
	translations map[string]map[string]string
	defaultLang  string

	// supported lists the default language first, as the matcher expects.
	supported []string
	matcher   language.Matcher
}

// New loads the catalogs shipped with the binary.
func New(defaultLang string) (*Manager, error) {
	return LoadFS(embedded, "locales", defaultLang)
}

// LoadFS loads every YAML catalog in dir. Each file maps a language to nested keys.
func LoadFS(fsys fs.FS, dir, defaultLang string) (*Manager, error) {
	catalog, err := parseDir(fsys, dir)
	if err != nil {
		return nil, err
	}

	if defaultLang == "" {
		defaultLang = "en"
	}
	defaultLang = normalizeLang(defaultLang)

	if _, ok := catalog[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	supported := []string{defaultLang}
	tags := []language.Tag{language.Make(defaultLang)}
	for lang := range catalog {
		if lang != defaultLang {
			supported = append(supported, lang)
		}
	}
	sort.Strings(supported[1:])
	for _, lang := range supported[1:] {
		tags = append(tags, language.Make(lang))
	}

	return &Manager{
		translations: catalog,
		defaultLang:  defaultLang,
		supported:    supported,
		matcher:      language.NewMatcher(tags),
	}, nil
}

// Translator returns a translator for the requested language, falling back to the default.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	norm := normalizeLang(lang)
	if m.translations[norm] == nil {
		norm = m.defaultLang
	}

	return translator{
		lang:         norm,
		fallback:     m.defaultLang,
		translations: m.translations,
	}
}

// Match picks the best loaded language for an Accept-Language header value.
func (m *Manager) Match(acceptLanguage string) Translator {
	if m == nil {
		return translator{}
	}

	desired, _, err := language.ParseAcceptLanguage(acceptLanguage)
	if err != nil || len(desired) == 0 {
		return m.Translator(m.defaultLang)
	}

	_, idx, confidence := m.matcher.Match(desired...)
	if confidence == language.No || idx < 0 || idx >= len(m.supported) {
		return m.Translator(m.defaultLang)
	}

	return m.Translator(m.supported[idx])
}

// Languages returns all loaded languages, sorted.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}

	languages := make([]string, 0, len(m.translations))
	for lang := range m.translations {
		languages = append(languages, lang)
	}
	sort.Strings(languages)
	return languages
}

type translator struct {
	lang         string
	fallback     string
	translations map[string]map[string]string
}

func (t translator) Lang() string {
	return t.lang
}

// T returns the key itself when no catalog has it.
func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}

	if value := t.translations[t.lang][key]; value != "" {
		return value
	}
	if value := t.translations[t.fallback][key]; value != "" {
		return value
	}

	return key
}

// normalizeLang reduces a language tag such as "ru-RU" to its primary subtag.
func normalizeLang(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}

func parseDir(fsys fs.FS, dir string) (map[string]map[string]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("i18n: read dir %s: %w", dir, err)
	}

	catalog := make(map[string]map[string]string)
	var processed bool

	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if entry.IsDir() || !(strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) {
			continue
		}
		processed = true

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("i18n: read file %s: %w", entry.Name(), err)
		}

		var raw map[string]map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("i18n: parse file %s: %w", entry.Name(), err)
		}

		for lang, tree := range raw {
			lang = normalizeLang(lang)
			if lang == "" {
				continue
			}
			if catalog[lang] == nil {
				catalog[lang] = make(map[string]string)
			}
			flatten("", tree, catalog[lang])
		}
	}

	if !processed {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", dir)
	}

	return catalog, nil
}

func flatten(prefix string, in map[string]any, out map[string]string) {
	for key, value := range in {
		if key == "" {
			continue
		}

		next := key
		if prefix != "" {
			next = prefix + "." + key
		}

		switch v := value.(type) {
		case string:
			out[next] = v
		case map[string]any:
			flatten(next, v, out)
		}
	}
}
