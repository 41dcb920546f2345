package pairing_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erc7824/nitrolite/walletlink/pairing"
)

const pairingURI = "wc:5b3f5a0e-8e45-4a1c-9f3b-7b6f6c1f2d11@1?bridge=wss%3A%2F%2Frelay.example.org&key=6f1f2c9b0b7bba3fcdb7b6f3f9e5d2a1c0b9a8f7e6d5c4b3a2918f7e6d5c4b3a"

type controllerFixture struct {
	controller *pairing.SessionController
	store      *MockStore
	factory    *MockFactory
	decoder    *GatedDecoder
	metrics    *pairing.Metrics
}

func newControllerFixture(t *testing.T, store *MockStore, resolver MockResolver) *controllerFixture {
	t.Helper()

	f := &controllerFixture{
		store:   store,
		factory: &MockFactory{},
		decoder: NewGatedDecoder(),
		metrics: pairing.NewMetricsWithRegistry(prometheus.NewRegistry()),
	}

	controller, err := pairing.NewSessionController(pairing.ControllerConfig{
		Store:        store,
		Decoder:      f.decoder,
		Resolver:     resolver,
		NewTransport: f.factory.New,
		Metrics:      f.metrics,
	})
	require.NoError(t, err)
	t.Cleanup(controller.Close)

	f.controller = controller
	return f
}

func callRequest(id int, method string) string {
	return fmt.Sprintf(`{"id":%d,"jsonrpc":"2.0","method":%q,"params":[{"to":"%s"}]}`, id, method, tokenAddress)
}

func TestNewSessionController_RequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := pairing.NewSessionController(pairing.ControllerConfig{})
	assert.Error(t, err)
}

func TestSessionController_InitializeWithoutSession(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &MockStore{}, MockResolver{})
	require.NoError(t, f.controller.Initialize(context.Background()))

	state := f.controller.State()
	assert.Equal(t, pairing.StateDisconnected, state.Connection)
	assert.True(t, state.Session.IsZero())
	assert.Empty(t, f.factory.Transports())
}

func TestSessionController_InitializeRestoresSession(t *testing.T) {
	t.Parallel()

	session := testSession()
	f := newControllerFixture(t, &MockStore{session: &session}, MockResolver{})

	var seen []pairing.ConnectionState
	var mu sync.Mutex
	f.controller.Subscribe(func(s pairing.State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s.Connection)
	})

	require.NoError(t, f.controller.Initialize(context.Background()))
	require.NoError(t, f.controller.Initialize(context.Background()))

	transports := f.factory.Transports()
	require.Len(t, transports, 1)
	require.NotNil(t, transports[0].opts.Session)
	assert.Equal(t, session.HandshakeTopic, transports[0].opts.Session.HandshakeTopic)
	assert.Empty(t, transports[0].opts.URI)
	assert.Equal(t, 1, transports[0].HandlerCount(pairing.EventCallRequest))
	assert.Zero(t, transports[0].HandlerCount(pairing.EventSessionRequest))

	state := f.controller.State()
	assert.Equal(t, pairing.StateConnected, state.Connection)
	assert.True(t, state.Connected)
	assert.Equal(t, session.Account(), state.Address)
	assert.Equal(t, session, state.Session)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.SessionConnected))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []pairing.ConnectionState{pairing.StateRestoring, pairing.StateConnected}, seen)
}

func TestSessionController_InitializeTransportFailure(t *testing.T) {
	t.Parallel()

	session := testSession()
	f := newControllerFixture(t, &MockStore{session: &session}, MockResolver{})
	f.factory.err = errors.New("relay unreachable")

	err := f.controller.Initialize(context.Background())
	require.Error(t, err)

	state := f.controller.State()
	assert.Equal(t, pairing.StateDisconnected, state.Connection)
	assert.True(t, state.Session.IsZero())
}

func TestSessionController_InitializeLoadFailure(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &MockStore{loadErr: errors.New("disk gone")}, MockResolver{})
	require.Error(t, f.controller.Initialize(context.Background()))
	assert.Equal(t, pairing.StateDisconnected, f.controller.State().Connection)
}

func TestSessionController_ConnectAndApprove(t *testing.T) {
	t.Parallel()

	store := &MockStore{}
	f := newControllerFixture(t, store, MockResolver{names: map[string]string{"alice.eth": recipientAddress}})
	approved := testSession()
	f.factory.setup = func(mt *MockTransport) {
		mt.onApprove = func(pairing.SessionApproval) {
			_ = store.Save(context.Background(), approved)
		}
	}

	require.NoError(t, f.controller.Connect(context.Background(), "alice.eth", pairingURI))

	transports := f.factory.Transports()
	require.Len(t, transports, 1)
	mt := transports[0]
	assert.Equal(t, pairingURI, mt.opts.URI)
	assert.Nil(t, mt.opts.Session)
	assert.Equal(t, 1, mt.Kills(), "persisted session is invalidated right after creation")

	state := f.controller.State()
	assert.Equal(t, pairing.StateConnecting, state.Connection)
	assert.True(t, state.Loading)
	assert.Equal(t, recipientAddress, state.Address)

	require.NoError(t, mt.Emit(pairing.EventSessionRequest, nil, `{"peerId":"peer-1"}`))

	require.Len(t, mt.approvals, 1)
	assert.Equal(t, pairing.SessionApproval{Accounts: []string{recipientAddress}, ChainID: 1}, mt.approvals[0])

	state = f.controller.State()
	assert.Equal(t, pairing.StateConnected, state.Connection)
	assert.True(t, state.Connected)
	assert.False(t, state.Loading)
	assert.Equal(t, approved, state.Session)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConnectAttempts.WithLabelValues("approved")))
}

func TestSessionController_ConnectUnresolvedName(t *testing.T) {
	t.Parallel()

	for name, resolver := range map[string]MockResolver{
		"no address":     {names: map[string]string{}},
		"resolver error": {err: errors.New("rpc down")},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f := newControllerFixture(t, &MockStore{}, resolver)
			before := f.controller.State()

			require.NoError(t, f.controller.Connect(context.Background(), "alice.eth", pairingURI))

			state := f.controller.State()
			assert.Empty(t, f.factory.Transports())
			assert.False(t, state.Loading)
			assert.Equal(t, before.Connected, state.Connected)
			assert.Equal(t, pairing.StateDisconnected, state.Connection)
			assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConnectAttempts.WithLabelValues("unresolved")))
		})
	}
}

func TestSessionController_ConnectTransportFailure(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &MockStore{}, MockResolver{})
	f.factory.err = errors.New("bad uri")

	err := f.controller.Connect(context.Background(), recipientAddress, "wc:broken")
	require.Error(t, err)

	state := f.controller.State()
	assert.False(t, state.Loading)
	assert.Equal(t, pairing.StateDisconnected, state.Connection)
}

func TestSessionController_ConnectSupersedesTransport(t *testing.T) {
	t.Parallel()

	session := testSession()
	f := newControllerFixture(t, &MockStore{session: &session}, MockResolver{})
	require.NoError(t, f.controller.Initialize(context.Background()))
	require.NoError(t, f.controller.Connect(context.Background(), recipientAddress, pairingURI))

	transports := f.factory.Transports()
	require.Len(t, transports, 2)
	old, current := transports[0], transports[1]

	assert.True(t, old.Closed())
	assert.Zero(t, old.HandlerCount(pairing.EventCallRequest))
	assert.Equal(t, 1, current.HandlerCount(pairing.EventCallRequest))
	assert.Equal(t, 1, current.HandlerCount(pairing.EventSessionRequest))
	assert.Equal(t, 1, current.HandlerCount(pairing.EventDisconnect))
}

func TestSessionController_CallRequests(t *testing.T) {
	t.Parallel()

	session := testSession()
	f := newControllerFixture(t, &MockStore{session: &session}, MockResolver{})
	require.NoError(t, f.controller.Initialize(context.Background()))
	mt := f.factory.Transports()[0]

	f.decoder.Release(1)
	require.NoError(t, mt.Emit(pairing.EventCallRequest, nil, callRequest(1, pairing.MethodSendTransaction)))
	require.Eventually(t, func() bool {
		p := f.controller.State().Proposal
		return p != nil && p.Method == "call-1"
	}, time.Second, 5*time.Millisecond)

	// Unhandled methods, decode failures and malformed payloads keep the proposal.
	require.NoError(t, mt.Emit(pairing.EventCallRequest, nil, callRequest(2, "personal_sign")))
	require.NoError(t, mt.Emit(pairing.EventCallRequest, nil, `{"id":"abc","jsonrpc":"2.0","method":"personal_sign","params":["0x00","0x01"]}`))
	require.NoError(t, mt.Emit(pairing.EventCallRequest, nil, callRequest(3, "fail")))
	require.NoError(t, mt.Emit(pairing.EventCallRequest, nil, `not json`))
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(f.metrics.DecodeFailures.WithLabelValues(string(pairing.StepResolveABI))) == 1 &&
			testutil.ToFloat64(f.metrics.DecodeFailures.WithLabelValues(string(pairing.StepParams))) == 1 &&
			testutil.ToFloat64(f.metrics.CallRequests.WithLabelValues("other")) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CallRequests.WithLabelValues(pairing.MethodSendTransaction)))
	assert.Equal(t, 2, testutil.CollectAndCount(f.metrics.CallRequests), "method label is bucketed")

	state := f.controller.State()
	require.NotNil(t, state.Proposal)
	assert.Equal(t, "call-1", state.Proposal.Method)
	assert.Equal(t, pairing.StateConnected, state.Connection)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ProposalsPublished))
}

func TestSessionController_LaterCallRequestWins(t *testing.T) {
	t.Parallel()

	session := testSession()
	f := newControllerFixture(t, &MockStore{session: &session}, MockResolver{})
	require.NoError(t, f.controller.Initialize(context.Background()))
	mt := f.factory.Transports()[0]

	require.NoError(t, mt.Emit(pairing.EventCallRequest, nil, callRequest(1, pairing.MethodSendTransaction)))
	require.NoError(t, mt.Emit(pairing.EventCallRequest, nil, callRequest(2, pairing.MethodSendTransaction)))

	// B completes first, then the slower A.
	f.decoder.Release(2)
	require.Eventually(t, func() bool {
		p := f.controller.State().Proposal
		return p != nil && p.Method == "call-2"
	}, time.Second, 5*time.Millisecond)

	f.decoder.Release(1)
	require.Eventually(t, func() bool { return f.decoder.Completed() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool {
		p := f.controller.State().Proposal
		return p == nil || p.Method != "call-2"
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ProposalsPublished))
}

func TestSessionController_DropsDecodesOfReplacedTransport(t *testing.T) {
	t.Parallel()

	session := testSession()
	f := newControllerFixture(t, &MockStore{session: &session}, MockResolver{})
	require.NoError(t, f.controller.Initialize(context.Background()))
	old := f.factory.Transports()[0]

	require.NoError(t, old.Emit(pairing.EventCallRequest, nil, callRequest(1, pairing.MethodSendTransaction)))
	require.NoError(t, f.controller.Connect(context.Background(), recipientAddress, pairingURI))

	f.decoder.Release(1)
	f.controller.Close()

	assert.Nil(t, f.controller.State().Proposal)
}

func TestSessionController_TransportErrorsAreFatal(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &MockStore{}, MockResolver{})
	require.NoError(t, f.controller.Connect(context.Background(), recipientAddress, pairingURI))
	mt := f.factory.Transports()[0]

	relayErr := errors.New("relay rejected")
	for _, event := range []pairing.Event{pairing.EventSessionRequest, pairing.EventCallRequest, pairing.EventDisconnect} {
		assert.ErrorIs(t, mt.Emit(event, relayErr, `{}`), relayErr, event)
	}
	assert.Empty(t, mt.approvals)

	// The transport reports its closure with the fatal error.
	mt.opts.HandleClosure(relayErr)

	state := f.controller.State()
	assert.ErrorIs(t, state.Err, relayErr)
	assert.Equal(t, pairing.StateDisconnected, state.Connection)
	assert.Zero(t, mt.HandlerCount(pairing.EventCallRequest))
}

func TestSessionController_DisconnectEventKeepsState(t *testing.T) {
	t.Parallel()

	session := testSession()
	store := &MockStore{session: &session}
	f := newControllerFixture(t, store, MockResolver{})
	require.NoError(t, f.controller.Initialize(context.Background()))
	mt := f.factory.Transports()[0]

	require.NoError(t, mt.Emit(pairing.EventDisconnect, nil, `{"message":"bye"}`))

	assert.Equal(t, pairing.StateConnected, f.controller.State().Connection)
	assert.NotNil(t, store.Stored())
}

func TestSessionController_Logout(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		attached bool
		killErr  error
	}{
		"no transport":  {},
		"kill succeeds": {attached: true},
		"kill fails":    {attached: true, killErr: errors.New("relay down")},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			session := testSession()
			store := &MockStore{session: &session}
			f := newControllerFixture(t, store, MockResolver{})
			f.factory.setup = func(mt *MockTransport) { mt.killErr = tc.killErr }
			if tc.attached {
				require.NoError(t, f.controller.Initialize(context.Background()))
			}

			require.NoError(t, f.controller.Logout(context.Background()))

			assert.Nil(t, store.Stored())
			state := f.controller.State()
			assert.True(t, state.Session.IsZero())
			assert.Equal(t, pairing.EmptySession(), state.Session)
			assert.Equal(t, pairing.StateDisconnected, state.Connection)
			assert.False(t, state.Connected)

			if tc.attached {
				mt := f.factory.Transports()[0]
				assert.Equal(t, 1, mt.Kills())
				assert.True(t, mt.Closed())
			}
		})
	}
}

func TestSessionController_LogoutReportsClearFailure(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &MockStore{clearErr: errors.New("read-only")}, MockResolver{})
	assert.Error(t, f.controller.Logout(context.Background()))
	assert.True(t, f.controller.State().Session.IsZero())
}

func TestSessionController_LogoutAbandonsPendingConnect(t *testing.T) {
	t.Parallel()

	store := &MockStore{}
	f := newControllerFixture(t, store, MockResolver{})
	f.factory.dialing = make(chan struct{}, 1)
	f.factory.release = make(chan struct{})

	connectErr := make(chan error, 1)
	go func() {
		connectErr <- f.controller.Connect(context.Background(), recipientAddress, pairingURI)
	}()
	<-f.factory.dialing

	require.NoError(t, f.controller.Logout(context.Background()))
	close(f.factory.release)
	require.NoError(t, <-connectErr)

	transports := f.factory.Transports()
	require.Len(t, transports, 1)
	mt := transports[0]
	assert.True(t, mt.Closed())
	assert.Zero(t, mt.Kills())
	for _, event := range []pairing.Event{pairing.EventSessionRequest, pairing.EventCallRequest, pairing.EventDisconnect} {
		assert.Zero(t, mt.HandlerCount(event), event)
	}

	require.NoError(t, mt.Emit(pairing.EventSessionRequest, nil, `{"peerId":"peer-1"}`))
	assert.Empty(t, mt.approvals)
	assert.Nil(t, store.Stored())

	state := f.controller.State()
	assert.Equal(t, pairing.StateDisconnected, state.Connection)
	assert.False(t, state.Connected)
	assert.False(t, state.Loading)
}

func TestSessionController_InvalidSessionBlob(t *testing.T) {
	t.Parallel()

	// A store that found malformed JSON reports no session.
	f := newControllerFixture(t, &MockStore{}, MockResolver{})
	require.NoError(t, f.controller.Initialize(context.Background()))
	assert.Equal(t, pairing.StateDisconnected, f.controller.State().Connection)
}

func TestSessionController_Unsubscribe(t *testing.T) {
	t.Parallel()

	f := newControllerFixture(t, &MockStore{}, MockResolver{})

	calls := 0
	cancel := f.controller.Subscribe(func(pairing.State) { calls++ })
	require.NoError(t, f.controller.Initialize(context.Background()))
	assert.Equal(t, 1, calls)

	cancel()
	require.NoError(t, f.controller.Logout(context.Background()))
	assert.Equal(t, 1, calls)
}
