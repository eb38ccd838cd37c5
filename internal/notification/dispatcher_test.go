package notification

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingProvider struct {
	mu   sync.Mutex
	sent []string
}

func (p *recordingProvider) Send(ctx context.Context, to []string, subject, htmlBody string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, to[0])
	return nil
}

func (p *recordingProvider) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func TestDispatcherDeliversQueuedJobsOnStop(t *testing.T) {
	provider := &recordingProvider{}
	d := NewDispatcher(zap.NewNop(), provider)

	d.Enqueue(Job{To: "owner@duka.example", Subject: "Payment received", Body: "<p>ok</p>"})
	d.Enqueue(Job{To: "other@duka.example", Subject: "Payment received", Body: "<p>ok</p>"})

	d.Start()
	d.Stop()

	sent := provider.Sent()
	require.Len(t, sent, 2)
	assert.Contains(t, sent, "owner@duka.example")
	assert.Contains(t, sent, "other@duka.example")
}

func TestDispatcherDropsJobsWithoutRecipient(t *testing.T) {
	provider := &recordingProvider{}
	d := NewDispatcher(zap.NewNop(), provider)

	d.Enqueue(Job{Subject: "no recipient"})
	d.Start()
	d.Stop()

	assert.Empty(t, provider.Sent())
}
