package i18n

import (
	"embed"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

// DefaultLang is used when a gateway config names no language.
const DefaultLang = "fa"

const (
	PaymentFailed   = "paymentFailed"
	UnknownError    = "unknownError"
	PurchaseFailed  = "purchaseFailed"
	TransportFailed = "transportFailed"
	HashMismatch    = "hashMismatch"
	PaymentSuccess  = "paymentSuccess"
)

//go:embed translations/active.*.toml
var localeFS embed.FS
var bundle *i18n.Bundle

func init() {
	bundle = i18n.NewBundle(language.Persian)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)
	for _, f := range []string{"translations/active.fa.toml", "translations/active.en.toml"} {
		if _, err := bundle.LoadMessageFileFS(localeFS, f); err != nil {
			panic(err)
		}
	}
}

// T returns the message in lang, falling back to Persian and then to id.
func T(lang, id string) string {
	s, err := i18n.NewLocalizer(bundle, lang, DefaultLang).Localize(&i18n.LocalizeConfig{MessageID: id})
	if err != nil || s == "" {
		return id
	}
	return s
}

// Has reports whether id is a known message.
func Has(id string) bool {
	_, err := i18n.NewLocalizer(bundle, DefaultLang).Localize(&i18n.LocalizeConfig{MessageID: id})
	return err == nil
}
