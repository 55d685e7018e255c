package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/xledger/internal/domain"
	"github.com/iho/xledger/internal/usecase"
)

type fakeClient struct {
	invoked []usecase.LedgerRequest
	queried []usecase.LedgerRequest
	err     error
}

func (f *fakeClient) Invoke(_ context.Context, req usecase.LedgerRequest) (*usecase.InvokeResult, error) {
	f.invoked = append(f.invoked, req)
	if f.err != nil {
		return nil, f.err
	}
	return &usecase.InvokeResult{CorrelationID: "ref-1"}, nil
}

func (f *fakeClient) Query(_ context.Context, req usecase.LedgerRequest) (json.RawMessage, error) {
	f.queried = append(f.queried, req)
	return json.RawMessage(`{}`), f.err
}

type fakeEvents struct {
	chains []string
}

func (f *fakeEvents) Subscribe(_ context.Context, chainID string, _ usecase.EventHandler) error {
	f.chains = append(f.chains, chainID)
	return nil
}

type observedCall struct {
	chainID, method string
	failed          bool
}

type fakeObserver struct {
	calls  []observedCall
	events []string
}

func (f *fakeObserver) ObserveLedgerCall(chainID, method string, err error, _ time.Duration) {
	f.calls = append(f.calls, observedCall{chainID: chainID, method: method, failed: err != nil})
}

func (f *fakeObserver) LedgerEvent(chainID, source string) {
	f.events = append(f.events, chainID+"/"+source)
}

func TestRouter_InvokeFillsContract(t *testing.T) {
	obs := &fakeObserver{}
	r := NewRouter(obs, zerolog.Nop())
	client := &fakeClient{}
	r.Register("chain1", client, nil, "asset-cc")

	res, err := r.Invoke(context.Background(), "chain1", usecase.LedgerRequest{Method: "transfer"})
	require.NoError(t, err)
	assert.Equal(t, "ref-1", res.CorrelationID)

	_, err = r.Invoke(context.Background(), "chain1", usecase.LedgerRequest{Contract: "other", Method: "transfer"})
	require.NoError(t, err)

	require.Len(t, client.invoked, 2)
	assert.Equal(t, "asset-cc", client.invoked[0].Contract)
	assert.Equal(t, "other", client.invoked[1].Contract)
	assert.Equal(t, []observedCall{{"chain1", "transfer", false}, {"chain1", "transfer", false}}, obs.calls)
}

func TestRouter_QueryObservesFailure(t *testing.T) {
	obs := &fakeObserver{}
	r := NewRouter(obs, zerolog.Nop())
	r.Register("chain1", &fakeClient{err: errors.New("down")}, nil, "")

	_, err := r.Query(context.Background(), "chain1", usecase.LedgerRequest{Method: "balance"})
	require.Error(t, err)
	assert.Equal(t, []observedCall{{"chain1", "balance", true}}, obs.calls)
}

func TestRouter_UnknownChain(t *testing.T) {
	r := NewRouter(nil, zerolog.Nop())

	_, err := r.Invoke(context.Background(), "nope", usecase.LedgerRequest{})
	assert.ErrorIs(t, err, domain.ErrUnknownChain)
	_, err = r.Query(context.Background(), "nope", usecase.LedgerRequest{})
	assert.ErrorIs(t, err, domain.ErrUnknownChain)
	assert.ErrorIs(t, r.Subscribe(context.Background(), "nope", nil), domain.ErrUnknownChain)
}

func TestRouter_SubscribeAll(t *testing.T) {
	r := NewRouter(nil, zerolog.Nop())
	events := &fakeEvents{}
	r.Register("chain2", &fakeClient{}, events, "")
	r.Register("chain1", &fakeClient{}, events, "")
	r.Register("webhook-only", &fakeClient{}, nil, "")

	require.NoError(t, r.SubscribeAll(context.Background(), nil))
	assert.Equal(t, []string{"chain1", "chain2"}, events.chains)
	assert.Equal(t, []string{"chain1", "chain2", "webhook-only"}, r.Chains())
}

func TestFindString(t *testing.T) {
	var doc any
	require.NoError(t, json.Unmarshal([]byte(`{"result":{"rows":[{"other":1},{"txid":"abc"}]},"n":{"seq":1000000}}`), &doc))

	got, ok := findString(doc, "txid")
	assert.True(t, ok)
	assert.Equal(t, "abc", got)

	got, ok = findString(doc, "seq")
	assert.True(t, ok)
	assert.Equal(t, "1000000", got)

	_, ok = findString(doc, "missing")
	assert.False(t, ok)

	dec := json.NewDecoder(strings.NewReader(`{"z":{"txid":"late"},"b":{"txid":12345678901234567890}}`))
	dec.UseNumber()
	require.NoError(t, dec.Decode(&doc))
	for i := 0; i < 20; i++ {
		got, ok = findString(doc, "txid")
		assert.True(t, ok)
		assert.Equal(t, "12345678901234567890", got)
	}
}
