package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mctier/lanlobby/internal/core"
	"github.com/mctier/lanlobby/internal/domain"
)

type fakeTunnel struct {
	startErr  error
	virtualIP string

	started   int
	stopped   int
	namespace string
}

func (f *fakeTunnel) Start(_ context.Context, namespace, _, _ string) (string, error) {
	f.started++
	f.namespace = namespace
	if f.startErr != nil {
		return "", f.startErr
	}
	return f.virtualIP, nil
}

func (f *fakeTunnel) Stop() { f.stopped++ }

func (f *fakeTunnel) Status() core.TunnelStatus {
	if f.started > f.stopped {
		return core.TunnelStatus{State: core.TunnelConnected, VirtualIP: f.virtualIP}
	}
	return core.TunnelStatus{State: core.TunnelDisconnected}
}

func (f *fakeTunnel) VirtualIP() (string, bool) {
	return f.virtualIP, f.started > f.stopped
}

type fakeDiscovery struct {
	startErr error
	started  int
	stopped  int
}

func (f *fakeDiscovery) Start(_ context.Context, _, _, _ string) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeDiscovery) Stop() { f.stopped++ }

func validParams() JoinParams {
	return JoinParams{
		LobbyName:  "game night",
		Password:   "secret42",
		PlayerName: "alice",
		ServerNode: "tcp://127.0.0.1:11010",
	}
}

func newTestManager() (*SessionManager, *fakeTunnel, *fakeDiscovery) {
	ft := &fakeTunnel{virtualIP: "10.144.144.7"}
	fd := &fakeDiscovery{}
	return NewSessionManager(ft, fd, NewBus(), "10.126.126.1"), ft, fd
}

func TestCreateLobby(t *testing.T) {
	m, ft, fd := newTestManager()

	lobby, err := m.Create(context.Background(), validParams())
	require.NoError(t, err)
	assert.Equal(t, "game night", lobby.Name)
	assert.Equal(t, "10.144.144.7", lobby.VirtualIP)
	assert.Equal(t, "10.126.126.1", lobby.HostVirtualIP)
	assert.Equal(t, 1, ft.started)
	assert.Equal(t, 0, fd.started, "the creator does not announce, members find it")

	// The local player seeds the roster.
	assert.Equal(t, 1, m.Roster().Count())
	assert.NotEmpty(t, m.LocalPlayerID())

	got, ok := m.Lobby()
	require.True(t, ok)
	assert.Equal(t, lobby.ID, got.ID)
}

func TestCreateTrimsLobbyName(t *testing.T) {
	m, ft, _ := newTestManager()

	p := validParams()
	p.LobbyName = "  game night  "
	lobby, err := m.Create(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "game night", lobby.Name)
	assert.Equal(t, "lanlobby-game night", ft.namespace, "padding must not leak into the namespace")
}

func TestJoinStartsDiscovery(t *testing.T) {
	m, _, fd := newTestManager()

	_, err := m.Join(context.Background(), validParams())
	require.NoError(t, err)
	assert.Equal(t, 1, fd.started)
}

func TestCreateWhileInLobby(t *testing.T) {
	m, ft, _ := newTestManager()

	_, err := m.Create(context.Background(), validParams())
	require.NoError(t, err)

	_, err = m.Create(context.Background(), validParams())
	assert.ErrorIs(t, err, core.ErrAlreadyInLobby)
	_, err = m.Join(context.Background(), validParams())
	assert.ErrorIs(t, err, core.ErrAlreadyInLobby)
	assert.Equal(t, 1, ft.started, "no second bring-up is attempted")
}

func TestCreateValidationRunsFirst(t *testing.T) {
	m, ft, _ := newTestManager()

	p := validParams()
	p.Password = "short"
	_, err := m.Create(context.Background(), p)
	assert.ErrorIs(t, err, core.ErrValidation)
	assert.Equal(t, 0, ft.started, "nothing is started on bad input")
}

func TestCreateTunnelFailure(t *testing.T) {
	m, ft, _ := newTestManager()
	ft.startErr = errors.New("daemon refused")

	_, err := m.Create(context.Background(), validParams())
	require.Error(t, err)
	_, ok := m.Lobby()
	assert.False(t, ok)
	assert.Equal(t, 0, m.Roster().Count())
}

func TestJoinDiscoveryFailureRollsBackTunnel(t *testing.T) {
	m, ft, fd := newTestManager()
	fd.startErr = errors.New("no free port")

	_, err := m.Join(context.Background(), validParams())
	require.Error(t, err)
	assert.Equal(t, 1, ft.stopped, "tunnel is torn down when discovery cannot start")
	_, ok := m.Lobby()
	assert.False(t, ok)
}

func TestLeave(t *testing.T) {
	m, ft, fd := newTestManager()

	_, err := m.Join(context.Background(), validParams())
	require.NoError(t, err)

	require.NoError(t, m.Leave())
	assert.Equal(t, 1, ft.stopped)
	assert.Equal(t, 1, fd.stopped)
	assert.Equal(t, 0, m.Roster().Count())
	assert.Empty(t, m.LocalPlayerID())

	assert.ErrorIs(t, m.Leave(), core.ErrNotInLobby)
}

func TestLeaveWithoutSession(t *testing.T) {
	m, _, _ := newTestManager()
	assert.ErrorIs(t, m.Leave(), core.ErrNotInLobby)
}

func TestRejoinAfterLeave(t *testing.T) {
	m, ft, _ := newTestManager()

	_, err := m.Create(context.Background(), validParams())
	require.NoError(t, err)
	require.NoError(t, m.Leave())

	_, err = m.Create(context.Background(), validParams())
	require.NoError(t, err)
	assert.Equal(t, 2, ft.started)
}

func TestMemberLifecycleEvents(t *testing.T) {
	m, _, _ := newTestManager()
	events, unsub := m.bus.Subscribe(16)
	defer unsub()

	_, err := m.Create(context.Background(), validParams())
	require.NoError(t, err)
	drain(events)

	bob := domain.NewPlayer("bob")
	m.AddMember(bob)
	ev := <-events
	assert.Equal(t, EventPlayerJoined, ev.Name)
	assert.Equal(t, "bob", ev.Payload.(PlayerEventPayload).PlayerName)
	assert.Equal(t, 2, m.Roster().Count())

	require.NoError(t, m.UpdateMic(bob.ID, false))
	ev = <-events
	assert.Equal(t, EventPlayerStatusUpdate, ev.Name)
	assert.False(t, ev.Payload.(StatusUpdatePayload).MicEnabled)

	require.NoError(t, m.RemoveMember(bob.ID))
	ev = <-events
	assert.Equal(t, EventPlayerLeft, ev.Name)
	assert.Equal(t, 1, m.Roster().Count())

	assert.ErrorIs(t, m.RemoveMember(bob.ID), core.ErrPlayerNotFound)
	assert.ErrorIs(t, m.UpdateMic("ghost", true), core.ErrPlayerNotFound)
}

func drain(ch <-chan Event) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

func TestValidateParams(t *testing.T) {
	assert.NoError(t, Validate(validParams()))

	p := validParams()
	p.LobbyName = "ab"
	assert.ErrorIs(t, Validate(p), core.ErrValidation)

	p = validParams()
	p.PlayerName = "  "
	assert.ErrorIs(t, Validate(p), core.ErrValidation)

	p = validParams()
	p.ServerNode = ""
	assert.ErrorIs(t, Validate(p), core.ErrValidation)
}
