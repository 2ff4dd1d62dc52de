package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/eamirgh/go-multipay/internal/logger"
)

type Option func(*options)

type options struct {
	client *http.Client
	log    *zap.Logger
}

// WithHTTPClient sets the client used for provider calls. Timeouts and
// retries are the client's business.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		if c != nil {
			o.client = c
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		client: &http.Client{},
		log:    logger.L(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// postJSON sends payload as JSON and returns the raw response body. Non-2xx
// responses are not errors: providers put their error messages in the body.
func (o options) postJSON(ctx context.Context, endpoint string, payload any) (int, []byte, error) {
	bs, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, errors.Wrap(err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bs))
	if err != nil {
		return 0, nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return o.do(req)
}

func (o options) do(req *http.Request) (int, []byte, error) {
	resp, err := o.client.Do(req)
	if err != nil {
		return 0, nil, errors.Wrapf(err, "%s %s", req.Method, req.URL.Redacted())
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, errors.Wrapf(err, "read response from %s", req.URL.Redacted())
	}
	return resp.StatusCode, b, nil
}

// messages decodes provider error lists sent as a string, an array of
// strings or an object of field -> message(s).
type messages []string

func (m *messages) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*m = nil
		return nil
	}
	switch b[0] {
	case '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*m = messages{s}
	case '[':
		var raw []json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		out := make(messages, 0, len(raw))
		for _, r := range raw {
			var sub messages
			if err := sub.UnmarshalJSON(r); err != nil {
				return err
			}
			out = append(out, sub...)
		}
		*m = out
	case '{':
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		keys := make([]string, 0, len(raw))
		for k := range raw {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(messages, 0, len(raw))
		for _, k := range keys {
			var sub messages
			if err := sub.UnmarshalJSON(raw[k]); err != nil {
				return err
			}
			out = append(out, sub...)
		}
		*m = out
	default:
		*m = messages{string(b)}
	}
	return nil
}

// String joins the messages one per line.
func (m messages) String() string {
	return strings.Join(m, "\n")
}

// decodeFields decodes a JSON object keeping numbers as json.Number so
// provider values reach the receipt unaltered.
func decodeFields(b []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// scalarString renders a string or number JSON value without quotes.
func scalarString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func validURL(name, raw string) error {
	if raw == "" {
		return errors.Errorf("%s is required", name)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return errors.Wrapf(err, "%s is not a valid url", name)
	}
	if !u.IsAbs() || u.Host == "" {
		return errors.Errorf("%s must be an absolute url, got %q", name, raw)
	}
	return nil
}
