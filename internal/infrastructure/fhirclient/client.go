// Package fhirclient loads patient records from an upstream FHIR R4 server.
package fhirclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-caregap/internal/domain/caregap"
	fhir "github.com/drfirst/go-caregap/internal/fhir/r4"
	"github.com/drfirst/go-caregap/internal/observability/tracing"
	"github.com/drfirst/go-caregap/pkg/circuitbreaker"
)

const (
	pageSize = 100
	maxPages = 10

	fhirJSON = "application/fhir+json"
)

// searchTypes are fetched with ?patient={id} after the Patient itself
var searchTypes = []string{
	fhir.ResourceCondition,
	fhir.ResourceObservation,
	fhir.ResourceMedicationRequest,
	fhir.ResourceImmunization,
}

// FetchError describes a failed upstream request
type FetchError struct {
	Resource   string
	StatusCode int
	Cause      error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.Resource, e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("fetch %s: %v", e.Resource, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// Config configures the client
type Config struct {
	BaseURL     string
	BearerToken string
	Timeout     time.Duration
}

// Client implements caregap.RecordSource against a FHIR server. Every
// request runs through a circuit breaker named after the upstream host.
type Client struct {
	baseURL  string
	token    string
	http     *http.Client
	breakers *circuitbreaker.Manager
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a client. breaker is the template for the per-host breakers;
// its IsSuccessful is replaced so that client errors (4xx) and caller
// cancellation do not count against the upstream.
func New(cfg Config, breaker circuitbreaker.Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid FHIR base URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	breaker.IsSuccessful = upstreamHealthy

	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.BearerToken,
		http:     &http.Client{Timeout: timeout},
		breakers: circuitbreaker.NewManager(breaker, logger),
		logger:   logger,
		tracer:   otel.Tracer("fhir-client"),
	}, nil
}

// Breakers reports the state of the per-host circuit breakers
func (c *Client) Breakers() []circuitbreaker.HealthStatus {
	return c.breakers.HealthStatus()
}

// Ping checks the upstream capability statement
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.get(ctx, "CapabilityStatement", c.baseURL+"/metadata")
	return err
}

// LoadPatientContext implements caregap.RecordSource
func (c *Client) LoadPatientContext(ctx context.Context, patientID string) (*caregap.PatientHealthContext, error) {
	ctx, span := c.tracer.Start(ctx, "fhir.load_patient_context",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("patient_id", patientID)))
	defer span.End()

	res := &fhir.Resources{}

	raw, err := c.get(ctx, fhir.ResourcePatient, c.baseURL+"/Patient/"+url.PathEscape(patientID))
	if err != nil {
		var fe *FetchError
		if errors.As(err, &fe) && (fe.StatusCode == http.StatusNotFound || fe.StatusCode == http.StatusGone) {
			return nil, fmt.Errorf("patient %s: %w", patientID, caregap.ErrPatientNotFound)
		}
		tracing.Fail(span, err, "")
		return nil, err
	}
	if err := res.Add(raw); err != nil {
		return nil, &FetchError{Resource: fhir.ResourcePatient, Cause: err}
	}
	if len(res.Patients) == 0 {
		return nil, &FetchError{Resource: fhir.ResourcePatient, Cause: errors.New("response is not a Patient")}
	}

	for _, resourceType := range searchTypes {
		q := url.Values{}
		q.Set("patient", patientID)
		q.Set("_count", fmt.Sprint(pageSize))
		if err := c.search(ctx, resourceType, c.baseURL+"/"+resourceType+"?"+q.Encode(), res); err != nil {
			tracing.Fail(span, err, "")
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.Int("conditions", len(res.Conditions)),
		attribute.Int("observations", len(res.Observations)),
		attribute.Int("immunizations", len(res.Immunizations)),
	)
	return caregap.NewContext(res, patientID)
}

// search follows next links for up to maxPages pages
func (c *Client) search(ctx context.Context, resourceType, pageURL string, res *fhir.Resources) error {
	for page := 0; pageURL != ""; page++ {
		if page == maxPages {
			c.logger.Warn("search truncated",
				zap.String("resource", resourceType),
				zap.Int("pages", maxPages),
			)
			return nil
		}

		raw, err := c.get(ctx, resourceType, pageURL)
		if err != nil {
			return err
		}
		var bundle fhir.Bundle
		if err := json.Unmarshal(raw, &bundle); err != nil {
			return &FetchError{Resource: resourceType, Cause: fmt.Errorf("decode bundle: %w", err)}
		}
		for _, entry := range bundle.Entry {
			// search bundles may carry OperationOutcome or included resources
			_ = res.Add(entry.Resource)
		}
		pageURL = bundle.NextLink()
	}
	return nil
}

func (c *Client) get(ctx context.Context, resource, target string) ([]byte, error) {
	cb, err := c.breakers.GetOrCreate(c.breakerName(target))
	if err != nil {
		return nil, err
	}

	return circuitbreaker.Do(ctx, cb, func(ctx context.Context) ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, &FetchError{Resource: resource, Cause: err}
		}
		req.Header.Set("Accept", fhirJSON)
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, &FetchError{Resource: resource, Cause: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
		if err != nil {
			return nil, &FetchError{Resource: resource, StatusCode: resp.StatusCode, Cause: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return nil, &FetchError{Resource: resource, StatusCode: resp.StatusCode, Cause: outcomeError(body)}
		}
		return body, nil
	})
}

func (c *Client) breakerName(target string) string {
	if u, err := url.Parse(target); err == nil && u.Host != "" {
		return "fhir:" + u.Host
	}
	return "fhir"
}

// outcomeError extracts an OperationOutcome message from an error body
func outcomeError(body []byte) error {
	var oo fhir.OperationOutcome
	if err := json.Unmarshal(body, &oo); err == nil && oo.ResourceType == fhir.ResourceOperationOutcome {
		if msg := oo.Summary(); msg != "" {
			return errors.New(msg)
		}
	}
	return errors.New("unexpected status")
}

// upstreamHealthy reports whether err leaves the upstream's health unaffected
func upstreamHealthy(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.StatusCode >= 400 && fe.StatusCode < 500 && fe.StatusCode != http.StatusTooManyRequests
	}
	return false
}
