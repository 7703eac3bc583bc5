// Package session creates the time-bounded session artifact written after a
// successful interactive sign-in. The Writer builds and transforms a
// principal, stamps the artifact with its lifetime and persistence flag, and
// hands it to the configured CookieWriter. The core never reads the artifact
// back once written.
package session

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/idsrv/idsrv/principal"
)

// Artifact is one established sign-in session. Persistent artifacts survive
// browser restarts; non-persistent ones are scoped to the browser session.
type Artifact struct {
	ID         string
	Principal  principal.Principal
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Persistent bool
}

// TTL returns the artifact's remaining validity window at issuance.
func (a Artifact) TTL() time.Duration { return a.ExpiresAt.Sub(a.IssuedAt) }

// CookieWriter serializes an artifact onto the HTTP response. Implementations
// own cookie naming, signing, and any server-side persistence.
type CookieWriter interface {
	WriteSession(ctx context.Context, w http.ResponseWriter, art Artifact) error
}

// Request describes one session write.
type Request struct {
	Username   string
	Method     string
	Persistent bool
	// TTLHours is the session lifetime in whole hours, matching the
	// relying-party SSO cookie lifetime setting.
	TTLHours int
	// Resource is the optional relying-party context passed to the claims
	// transformation.
	Resource string
	// AdditionalClaims are appended to the transformed principal.
	AdditionalClaims []principal.Claim
}

// Writer creates session artifacts. Safe for concurrent use.
type Writer struct {
	builder *principal.Builder
	cookies CookieWriter
	log     *slog.Logger
	now     func() time.Time
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBuilder sets the principal builder, so sessions share the
// authentication pipeline's transformation policy.
func WithBuilder(b *principal.Builder) WriterOption {
	return func(w *Writer) { w.builder = b }
}

// WithLogger sets the slog logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) WriterOption {
	return func(w *Writer) { w.log = l }
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) { w.now = now }
}

// NewWriter returns a Writer over the given cookie mechanism.
func NewWriter(cookies CookieWriter, opts ...WriterOption) *Writer {
	w := &Writer{
		builder: principal.NewBuilder(),
		cookies: cookies,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write builds a transformed principal for the request, wraps it in an
// artifact, and delegates serialization to the cookie writer. This is a
// one-way operation: nothing is read back or verified afterwards.
func (w *Writer) Write(ctx context.Context, rw http.ResponseWriter, req Request) error {
	p, err := w.builder.BuildForResource(ctx, req.Resource, req.Username, req.Method, req.AdditionalClaims)
	if err != nil {
		return err
	}

	now := w.now().UTC()
	art := Artifact{
		ID:         uuid.NewString(),
		Principal:  p,
		IssuedAt:   now,
		ExpiresAt:  now.Add(time.Duration(req.TTLHours) * time.Hour),
		Persistent: req.Persistent,
	}

	if err := w.cookies.WriteSession(ctx, rw, art); err != nil {
		return err
	}
	w.log.InfoContext(ctx, "session established",
		slog.String("user", req.Username),
		slog.String("method", req.Method),
		slog.Bool("persistent", req.Persistent),
		slog.Int("ttl_hours", req.TTLHours),
	)
	return nil
}
