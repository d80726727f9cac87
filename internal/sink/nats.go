package sink

import (
	"context"
	"fmt"
	"strings"
	"time"

	v1 "github.com/aevon-lab/sliceflow/internal/api/v1"
	"github.com/nats-io/nats.go"
)

const natsFlushTimeout = 5 * time.Second

// Publisher is the subset of *nats.Conn the NATS sink uses.
type Publisher interface {
	PublishMsg(msg *nats.Msg) error
	FlushWithContext(ctx context.Context) error
}

// NATS publishes slices on <prefix>.<tenant>.<sliceType>. The message id
// header lets JetStream streams drop redeliveries of the same slice version.
type NATS struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
}

// NATSConfig configures a NATS connection.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	ClientName    string
}

// DialNATS connects to NATS and returns a sink owning the connection.
func DialNATS(cfg NATSConfig) (*NATS, error) {
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.Timeout(5 * time.Second),
	}
	if cfg.ClientName != "" {
		opts = append(opts, nats.Name(cfg.ClientName))
	}
	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.URL, err)
	}
	s := NewNATS(nc, cfg.SubjectPrefix)
	s.conn = nc
	return s, nil
}

// NewNATS creates a sink over an existing publisher.
func NewNATS(pub Publisher, subjectPrefix string) *NATS {
	if subjectPrefix == "" {
		subjectPrefix = "sliceflow.slices"
	}
	return &NATS{pub: pub, prefix: strings.TrimSuffix(subjectPrefix, ".")}
}

func (n *NATS) Name() string { return "nats" }

// Subject returns the subject slice is published on.
func (n *NATS) Subject(slice *v1.Slice) string {
	return n.prefix + "." + token(slice.TenantID) + "." + token(slice.SliceType)
}

// Ship publishes slice and waits for the server to acknowledge the flush.
func (n *NATS) Ship(ctx context.Context, slice *v1.Slice) error {
	data, err := Encode(slice)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(n.Subject(slice))
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, fmt.Sprintf("%s/%s/%s/%d", slice.TenantID, slice.EntityKey, slice.SliceType, slice.Version))
	msg.Header.Set("Sliceflow-Entity-Key", slice.EntityKey)

	if err := n.pub.PublishMsg(msg); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", msg.Subject, err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, natsFlushTimeout)
		defer cancel()
	}
	if err := n.pub.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("failed to flush NATS connection: %w", err)
	}
	return nil
}

// Close drains the owned connection, if any.
func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// token makes s safe as a single subject token.
func token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
