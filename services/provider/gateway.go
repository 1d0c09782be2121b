package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-resty/resty/v2"
	"go.uber.org/fx"

	"smmpanel/pkg/config"
)

var GatewayModule = fx.Module("provider.gateway", fx.Provide(NewGateway))

type ErrorKind string

const (
	ErrTimeout        ErrorKind = "timeout"
	ErrHTTPStatus     ErrorKind = "http_status"
	ErrVendorReported ErrorKind = "vendor_reported"
	ErrUnreachable    ErrorKind = "unreachable"
	ErrInvalidSchema  ErrorKind = "invalid_schema"
)

// GatewayError classifies vendor call failures. VendorReported carries the
// vendor's message verbatim; admins need it untouched for diagnosis.
type GatewayError struct {
	Kind       ErrorKind
	Message    string
	StatusCode int
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vendor %s (%d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("vendor %s: %s", e.Kind, e.Message)
}

func IsKind(err error, kind ErrorKind) bool {
	var ge *GatewayError
	return errors.As(err, &ge) && ge.Kind == kind
}

// RemoteService is the normalized shape of one vendor catalog row. Vendors
// are schema-inconsistent; all alternate field names are resolved here so the
// reconciler sees a single shape.
type RemoteService struct {
	ExternalID  string
	Name        string
	Category    string
	Rate        float64
	Min         int
	Max         int
	Type        string
	Description string
	AverageTime string
	Guarantee   string
	Refill      bool
	StartTime   string
	Speed       string
}

// RemoteOrderStatus reports vendor-side order progress. StartCount and
// Remains are nil when the vendor omitted them; an explicit 0 is kept.
type RemoteOrderStatus struct {
	Status     string
	StartCount *int
	Remains    *int
}

type AddOrderRequest struct {
	Service  string
	Link     string
	Quantity int
	Comment  string
}

// Gateway is the uniform HTTP adapter for vendor panel APIs. Every call is a
// form-encoded POST with the provider's key injected, bounded by one timeout.
type Gateway interface {
	Balance(ctx context.Context, p *Provider) (float64, error)
	Services(ctx context.Context, p *Provider) ([]RemoteService, error)
	OrderStatus(ctx context.Context, p *Provider, externalID string) (*RemoteOrderStatus, error)
	AddOrder(ctx context.Context, p *Provider, req AddOrderRequest) (string, error)
	CancelOrder(ctx context.Context, p *Provider, externalID string) error
	RefillOrder(ctx context.Context, p *Provider, externalID string) error
}

type restyGateway struct {
	client *resty.Client
}

func NewGateway(cfg *config.Config) Gateway {
	client := resty.New().
		SetTimeout(cfg.Vendor.Timeout).
		SetHeader("Accept", "application/json")
	return &restyGateway{client: client}
}

func (g *restyGateway) call(ctx context.Context, p *Provider, action string, params map[string]string) ([]byte, error) {
	form := map[string]string{
		"key":    p.APIKey,
		"action": action,
	}
	for k, v := range params {
		form[k] = v
	}

	resp, err := g.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(p.APIURL)
	if err != nil {
		var ue *url.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ue) && ue.Timeout()) {
			return nil, &GatewayError{Kind: ErrTimeout, Message: err.Error()}
		}
		return nil, &GatewayError{Kind: ErrUnreachable, Message: err.Error()}
	}

	if resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		return nil, &GatewayError{
			Kind:       ErrHTTPStatus,
			Message:    fmt.Sprintf("unexpected status %s", resp.Status()),
			StatusCode: resp.StatusCode(),
		}
	}

	return resp.Body(), nil
}

// decodeObject parses an object response and surfaces a vendor-reported
// error field verbatim.
func decodeObject(body []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, &GatewayError{Kind: ErrInvalidSchema, Message: "response is not a JSON object"}
	}
	if msg, ok := obj["error"]; ok {
		return nil, &GatewayError{Kind: ErrVendorReported, Message: stringify(msg)}
	}
	return obj, nil
}

func (g *restyGateway) Balance(ctx context.Context, p *Provider) (float64, error) {
	body, err := g.call(ctx, p, "balance", nil)
	if err != nil {
		return 0, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return 0, err
	}

	balance, ok := numberField(obj, "balance")
	if !ok {
		return 0, &GatewayError{Kind: ErrInvalidSchema, Message: "balance field missing"}
	}
	return balance, nil
}

func (g *restyGateway) Services(ctx context.Context, p *Provider) ([]RemoteService, error) {
	body, err := g.call(ctx, p, "services", nil)
	if err != nil {
		return nil, err
	}

	var list []map[string]any
	if err := json.Unmarshal(body, &list); err != nil {
		// Not a sequence. A vendor error object is the usual cause.
		if _, objErr := decodeObject(body); objErr != nil {
			var ge *GatewayError
			if errors.As(objErr, &ge) && ge.Kind == ErrVendorReported {
				return nil, objErr
			}
		}
		return nil, &GatewayError{Kind: ErrInvalidSchema, Message: "service list is not a sequence"}
	}

	out := make([]RemoteService, 0, len(list))
	for _, raw := range list {
		rate, _ := numberField(raw, "rate")
		min, _ := numberField(raw, "min")
		max, _ := numberField(raw, "max")
		out = append(out, RemoteService{
			ExternalID:  stringField(raw, "service", "id"),
			Name:        stringField(raw, "name"),
			Category:    stringField(raw, "category"),
			Rate:        rate,
			Min:         int(min),
			Max:         int(max),
			Type:        stringField(raw, "type"),
			Description: stringField(raw, "description", "desc", "detail"),
			AverageTime: stringField(raw, "average_time", "time", "avg_time"),
			Guarantee:   stringField(raw, "guarantee"),
			Refill:      boolField(raw, "refill"),
			StartTime:   stringField(raw, "start_time", "start"),
			Speed:       stringField(raw, "speed"),
		})
	}
	return out, nil
}

func (g *restyGateway) OrderStatus(ctx context.Context, p *Provider, externalID string) (*RemoteOrderStatus, error) {
	body, err := g.call(ctx, p, "status", map[string]string{"order": externalID})
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	status := &RemoteOrderStatus{Status: stringField(obj, "status")}
	if v, ok := numberField(obj, "start_count"); ok {
		n := int(v)
		status.StartCount = &n
	}
	if v, ok := numberField(obj, "remains"); ok {
		n := int(v)
		status.Remains = &n
	}
	return status, nil
}

func (g *restyGateway) AddOrder(ctx context.Context, p *Provider, req AddOrderRequest) (string, error) {
	params := map[string]string{
		"service":  req.Service,
		"link":     req.Link,
		"quantity": strconv.Itoa(req.Quantity),
	}
	if req.Comment != "" {
		params["comments"] = req.Comment
	}

	body, err := g.call(ctx, p, "add", params)
	if err != nil {
		return "", err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return "", err
	}

	externalID := stringField(obj, "order")
	if externalID == "" {
		return "", &GatewayError{Kind: ErrInvalidSchema, Message: "order field missing"}
	}
	return externalID, nil
}

func (g *restyGateway) CancelOrder(ctx context.Context, p *Provider, externalID string) error {
	body, err := g.call(ctx, p, "cancel", map[string]string{"order": externalID})
	if err != nil {
		return err
	}
	_, err = decodeObject(body)
	return err
}

func (g *restyGateway) RefillOrder(ctx context.Context, p *Provider, externalID string) error {
	body, err := g.call(ctx, p, "refill", map[string]string{"order": externalID})
	if err != nil {
		return err
	}
	_, err = decodeObject(body)
	return err
}

// stringField returns the first present, non-empty field among keys,
// stringified. Vendors interchangeably send numbers and strings.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(stringify(v)); s != "" {
			return s
		}
	}
	return ""
}

func numberField(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

func boolField(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		switch b := v.(type) {
		case bool:
			return b
		case float64:
			return b != 0
		case string:
			s := strings.ToLower(strings.TrimSpace(b))
			return s == "true" || s == "1" || s == "yes"
		}
	}
	return false
}

func stringify(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	default:
		b, _ := json.Marshal(s)
		return string(b)
	}
}
