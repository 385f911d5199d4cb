package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	xerrors "TokenAction-Chain/internal/errors"

	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	channel Channel
	events  []Event
	err     error
}

func (r *recordingNotifier) Channel() Channel { return r.channel }

func (r *recordingNotifier) Notify(_ context.Context, event Event) error {
	r.events = append(r.events, event)
	return r.err
}

func TestEventFromAmbiguousError(t *testing.T) {
	err := xerrors.Wrap(xerrors.CodeSubmissionAmbiguous, errors.New("i/o timeout"), "交易广播超时，结果未知",
		xerrors.WithMetadata("tx_hash", "0xdeadbeef"), xerrors.WithMetadata("nonce", "7"))

	event := EventFromError(err)
	require.Equal(t, xerrors.CodeSubmissionAmbiguous, event.Code)
	require.Equal(t, xerrors.SeverityCritical, event.Severity)
	require.Equal(t, "0xdeadbeef", event.TxHash)
	require.Equal(t, "7", event.Metadata["nonce"])
	require.False(t, event.OccurredAt.IsZero())
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{channel: ChannelAudit}
	bad := &recordingNotifier{channel: ChannelWebhook, err: errors.New("down")}
	var observed int
	d := NewFanout(ok, bad, nil).OnNotify(func(Event) { observed++ })

	err := d.Notify(context.Background(), Event{Code: xerrors.CodeRPCUnavailable})
	require.Error(t, err)
	require.Contains(t, err.Error(), "channel webhook")
	require.Len(t, ok.events, 1)
	require.Len(t, bad.events, 1)
	require.Equal(t, 1, observed)
	require.Equal(t, []Channel{ChannelAudit, ChannelWebhook}, d.Channels())
}

func TestWebhookNotifier(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &WebhookNotifier{URL: srv.URL, Client: srv.Client()}
	require.NoError(t, n.Notify(context.Background(), Event{Code: xerrors.CodeSubmissionAmbiguous, InvocationID: "inv-1"}))
	require.Equal(t, "inv-1", got.InvocationID)
}

func TestWebhookNotifierStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	err := (&WebhookNotifier{URL: srv.URL}).Notify(context.Background(), Event{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "502")

	require.NoError(t, (&WebhookNotifier{}).Notify(context.Background(), Event{}))
}

func TestAuditNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := &AuditNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	require.NoError(t, n.Notify(context.Background(), Event{
		Code:     xerrors.CodeSubmissionAmbiguous,
		Chain:    "sepolia",
		TxHash:   "0xabc",
		Metadata: map[string]string{"nonce": "3"},
	}))
	require.Contains(t, buf.String(), `"tx_hash":"0xabc"`)
	require.Contains(t, buf.String(), `"meta.nonce":"3"`)
}
