// Package i18n negotiates the response locale and translates robot texts.
package i18n

import (
	"embed"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/BTreeMap/RobotFeed/internal/models"
)

//go:embed locales/*.yaml
var localesFS embed.FS

// DefaultLocale is used when nothing better matches.
const DefaultLocale = "en"

// Translator resolves message keys and entity translations per locale.
type Translator struct {
	supported []language.Tag
	matcher   language.Matcher
	catalogs  map[string]map[string]string
}

// NewTranslator loads the embedded catalogs. The default locale comes first
// so that it wins ties during negotiation.
func NewTranslator() (*Translator, error) {
	entries, err := localesFS.ReadDir("locales")
	if err != nil {
		return nil, fmt.Errorf("read locales: %w", err)
	}

	catalogs := make(map[string]map[string]string)
	supported := []language.Tag{language.Make(DefaultLocale)}
	for _, e := range entries {
		name := strings.TrimSuffix(e.Name(), path.Ext(e.Name()))
		data, err := localesFS.ReadFile(path.Join("locales", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read catalog %s: %w", e.Name(), err)
		}
		var messages map[string]string
		if err := yaml.Unmarshal(data, &messages); err != nil {
			return nil, fmt.Errorf("parse catalog %s: %w", e.Name(), err)
		}
		catalogs[name] = messages
		if name != DefaultLocale {
			supported = append(supported, language.Make(name))
		}
	}
	if _, ok := catalogs[DefaultLocale]; !ok {
		return nil, fmt.Errorf("catalog for default locale %q missing", DefaultLocale)
	}

	slog.Debug("i18n.NewTranslator: catalogs loaded", "locales", len(catalogs))
	return &Translator{
		supported: supported,
		matcher:   language.NewMatcher(supported),
		catalogs:  catalogs,
	}, nil
}

// Negotiate picks the supported locale that best matches an Accept-Language
// header, falling back to fallback (itself negotiated) and then DefaultLocale.
func (t *Translator) Negotiate(acceptLanguage, fallback string) string {
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(tags) > 0 {
			if locale, ok := t.match(tags...); ok {
				return locale
			}
		}
	}
	if fallback != "" {
		if tag, err := language.Parse(fallback); err == nil {
			if locale, ok := t.match(tag); ok {
				return locale
			}
		}
	}
	return DefaultLocale
}

func (t *Translator) match(tags ...language.Tag) (string, bool) {
	_, index, confidence := t.matcher.Match(tags...)
	if confidence == language.No {
		return "", false
	}
	base, _ := t.supported[index].Base()
	return base.String(), true
}

// Translate returns the message for key in locale with {arg} placeholders
// filled, falling back to the default locale and then to the key itself.
func (t *Translator) Translate(key string, args map[string]string, locale string) string {
	msg, ok := t.catalogs[locale][key]
	if !ok {
		msg, ok = t.catalogs[DefaultLocale][key]
	}
	if !ok {
		slog.Warn("Translator.Translate: missing key", "key", key, "locale", locale)
		return key
	}
	for name, value := range args {
		msg = strings.ReplaceAll(msg, "{"+name+"}", value)
	}
	return msg
}

// TranslateText returns the translation of field for locale, or fallback.
func (t *Translator) TranslateText(translations models.Translations, field, fallback, locale string) string {
	if v, ok := translations.Field(locale, field); ok {
		return v
	}
	return fallback
}

// TranslateRobots returns copies of robots with title and body translated
// for locale. Untranslated fields keep their stored text.
func (t *Translator) TranslateRobots(robots []models.Robot, locale string) []models.Robot {
	out := make([]models.Robot, len(robots))
	for i, r := range robots {
		r.Title = t.TranslateText(r.Translations, "title", r.Title, locale)
		r.Body = t.TranslateText(r.Translations, "body", r.Body, locale)
		r.Buttons = append(models.Buttons(nil), r.Buttons...)
		out[i] = r
	}
	return out
}
