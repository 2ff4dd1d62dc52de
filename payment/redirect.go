package payment

import (
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// RedirectionForm tells the host how to send the payer to the provider.
type RedirectionForm struct {
	URL    string            `json:"url"`
	Method string            `json:"method"`
	Inputs map[string]string `json:"inputs"`
}

// NewRedirectionForm validates the target and copies the inputs.
func NewRedirectionForm(target, method string, inputs map[string]string) (*RedirectionForm, error) {
	if target == "" {
		return nil, errors.New("redirection url is empty")
	}
	if method != http.MethodGet && method != http.MethodPost {
		return nil, errors.Errorf("unsupported redirection method %q", method)
	}
	in := make(map[string]string, len(inputs))
	for k, v := range inputs {
		in[k] = v
	}
	return &RedirectionForm{
		URL:    target,
		Method: method,
		Inputs: in,
	}, nil
}

// Location returns the URL a browser should follow. For GET forms the inputs
// are merged into the query string; POST forms return URL unchanged.
func (f *RedirectionForm) Location() (string, error) {
	if f.Method != http.MethodGet || len(f.Inputs) == 0 {
		return f.URL, nil
	}
	u, err := url.Parse(f.URL)
	if err != nil {
		return "", errors.Wrapf(err, "parse redirection url %q", f.URL)
	}
	q := u.Query()
	for k, v := range f.Inputs {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
