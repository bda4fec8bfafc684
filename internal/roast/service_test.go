package roast_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/book-expert/voice-roaster/internal/roast"
	"github.com/book-expert/voice-roaster/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireAbort(t *testing.T, err error, reason roast.Reason) *roast.AbortError {
	t.Helper()

	var abortErr *roast.AbortError

	require.ErrorAs(t, err, &abortErr)
	assert.Equal(t, reason, abortErr.Reason)
	require.ErrorIs(t, err, reason.Sentinel())

	return abortErr
}

func assertUntouched(t *testing.T, h *harness) {
	t.Helper()

	doc := h.store.snapshot()
	assert.Zero(t, doc.LastRoastTime(testIssuer), "cooldown must not start")
	assert.Empty(t, doc.RoastLog, "audit log must not change")
}

func TestRoast_SuccessReachesLogged(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)

	outcome, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	require.NoError(t, err)

	assert.Equal(t, []roast.State{
		roast.StateReceived,
		roast.StateValidated,
		roast.StateConsentChecked,
		roast.StatePolicyChecked,
		roast.StateRateChecked,
		roast.StateContentSelected,
		roast.StateFilterChecked,
		roast.StateSynthesized,
		roast.StateDelivered,
		roast.StateLogged,
	}, outcome.Trace)

	now := h.clock.Now().UnixMilli()
	doc := h.store.snapshot()
	assert.Equal(t, now, doc.LastRoastTime(testIssuer))
	require.Len(t, doc.RoastLog, 1)
	assert.Equal(t, state.RoastEvent{
		Timestamp:    now,
		TargetUserID: testTarget,
		IssuerUserID: testIssuer,
		Tier:         state.TierTame,
		GroupID:      testGroup,
	}, doc.RoastLog[0])

	assert.Equal(t, 1, h.synthesizer.calls)
	assert.Equal(t, state.VoiceSilly, h.synthesizer.lastMode)
	assert.Equal(t, testReplyTo, h.deliverer.last.ReplyTo)
	assert.Equal(t, testGroup, h.deliverer.last.GroupID)
	assert.Equal(t, []byte("ogg:"+outcome.Line), h.deliverer.last.Audio)
	assert.NotZero(t, outcome.Receipt.MessageID)
}

func TestRoast_DefaultsTierAndGroupVoiceMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)
	h.editDocument(func(doc *state.Document) {
		doc.SetDefaultVoiceMode(testGroup, state.VoiceRobot)
	})

	outcome, err := h.service.Roast(context.Background(), roastRequest("", ""))
	require.NoError(t, err)

	assert.Equal(t, state.TierTame, outcome.Event.Tier)
	assert.Equal(t, state.VoiceRobot, outcome.Mode)
	assert.Equal(t, state.VoiceRobot, h.synthesizer.lastMode)
}

func TestRoast_InvalidArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(req *roast.Request)
		wantErr error
	}{
		{name: "no target", mutate: func(req *roast.Request) { req.Target = 0 }, wantErr: nil},
		{name: "no reply reference", mutate: func(req *roast.Request) { req.ReplyTo = 0 }, wantErr: nil},
		{name: "no issuer", mutate: func(req *roast.Request) { req.Issuer = 0 }, wantErr: nil},
		{name: "no group", mutate: func(req *roast.Request) { req.Group = 0 }, wantErr: nil},
		{name: "unknown tier", mutate: func(req *roast.Request) { req.Tier = "medium" }, wantErr: state.ErrInvalidTier},
		{name: "unknown mode", mutate: func(req *roast.Request) { req.Mode = "opera" }, wantErr: state.ErrInvalidVoiceMode},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.consent(testTarget)

			req := roastRequest("tame", "silly")
			testCase.mutate(&req)

			outcome, err := h.service.Roast(context.Background(), req)
			abortErr := requireAbort(t, err, roast.ReasonInvalidArgument)
			assert.Equal(t, roast.StateReceived, abortErr.State)
			assert.Equal(t, []roast.State{roast.StateReceived, roast.StateAborted}, outcome.Trace)

			if testCase.wantErr != nil {
				require.ErrorIs(t, err, testCase.wantErr)
			}

			assert.Zero(t, h.content.calls)
			assert.Zero(t, h.synthesizer.calls)
		})
	}
}

func TestRoast_NonConsentingTargetAlwaysDenied(t *testing.T) {
	t.Parallel()

	for _, tier := range state.Tiers() {
		for _, mode := range state.VoiceModes() {
			t.Run(string(tier)+"/"+string(mode), func(t *testing.T) {
				t.Parallel()

				h := newHarness(t)
				h.editDocument(func(doc *state.Document) {
					doc.SetNuclearOK(testGroup, true)
					doc.SetConsent(testTarget, false)
				})

				_, err := h.service.Roast(context.Background(), roastRequest(string(tier), string(mode)))
				requireAbort(t, err, roast.ReasonConsentDenied)
				assert.Zero(t, h.picker.calls)
				assert.Zero(t, h.synthesizer.calls)
				assertUntouched(t, h)
			})
		}
	}
}

func TestRoast_UnknownTargetDenied(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	_, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	requireAbort(t, err, roast.ReasonConsentDenied)
	assertUntouched(t, h)
}

func TestRoast_NuclearDisabledAbortsBeforeContentDraw(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)

	outcome, err := h.service.Roast(context.Background(), roastRequest("nuclear", "deep"))
	abortErr := requireAbort(t, err, roast.ReasonTierDisabled)
	assert.Equal(t, roast.StateConsentChecked, abortErr.State)
	assert.NotContains(t, outcome.Trace, roast.StateContentSelected)

	assert.Zero(t, h.content.calls)
	assert.Zero(t, h.picker.calls)
	assert.Zero(t, h.synthesizer.calls)
	assertUntouched(t, h)
}

func TestRoast_NuclearAllowedWhenEnabled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)
	h.editDocument(func(doc *state.Document) {
		doc.SetNuclearOK(testGroup, true)
	})

	outcome, err := h.service.Roast(context.Background(), roastRequest("nuclear", "deep"))
	require.NoError(t, err)
	assert.Equal(t, state.TierNuclear, outcome.Event.Tier)
}

func TestRoast_RateLimitedWithinWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)

	_, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	require.NoError(t, err)

	firstRoast := h.store.snapshot().LastRoastTime(testIssuer)

	h.clock.Advance(time.Minute)

	outcome, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	abortErr := requireAbort(t, err, roast.ReasonRateLimited)
	assert.Equal(t, 4*time.Minute, abortErr.Remaining)
	assert.Equal(t, int64(4), abortErr.RemainingMinutes())
	assert.Contains(t, outcome.Trace, roast.StatePolicyChecked)
	assert.NotContains(t, outcome.Trace, roast.StateRateChecked)

	doc := h.store.snapshot()
	assert.Equal(t, firstRoast, doc.LastRoastTime(testIssuer), "a refused roast must not extend the window")
	assert.Len(t, doc.RoastLog, 1)
	assert.Equal(t, 1, h.synthesizer.calls)
}

func TestRoast_RemainingWaitRoundsUp(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)

	now := h.clock.Now()
	h.editDocument(func(doc *state.Document) {
		doc.RecordCooldown(testIssuer, now.Add(-61*time.Second).UnixMilli())
	})

	_, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	abortErr := requireAbort(t, err, roast.ReasonRateLimited)
	assert.Equal(t, 4*time.Minute, abortErr.Remaining)

	h.editDocument(func(doc *state.Document) {
		doc.Cooldowns[testIssuer] = state.Cooldown{LastRoastTime: now.Add(-4*time.Minute - 59*time.Second).UnixMilli()}
	})

	_, err = h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	abortErr = requireAbort(t, err, roast.ReasonRateLimited)
	assert.Equal(t, time.Minute, abortErr.Remaining)
}

func TestRoast_CooldownExpiresAfterRateLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)

	_, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	require.NoError(t, err)

	h.clock.Advance(5 * time.Minute)

	_, err = h.service.Roast(context.Background(), roastRequest("spicy", "sultry"))
	require.NoError(t, err)

	doc := h.store.snapshot()
	assert.Equal(t, h.clock.Now().UnixMilli(), doc.LastRoastTime(testIssuer))
	assert.Len(t, doc.RoastLog, 2)
}

func TestRoast_FailuresDoNotStartCooldown(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		setup  func(h *harness)
		reason roast.Reason
		cause  error
	}{
		{
			name:   "synthesis failure",
			setup:  func(h *harness) { h.synthesizer.shouldFail = true },
			reason: roast.ReasonSynthesisFailed,
			cause:  errMockSynthesis,
		},
		{
			name:   "delivery failure",
			setup:  func(h *harness) { h.deliverer.shouldFail = true },
			reason: roast.ReasonDeliveryFailed,
			cause:  errMockDelivery,
		},
		{
			name:   "content failure",
			setup:  func(h *harness) { h.content.shouldFail = true },
			reason: roast.ReasonContentUnavailable,
			cause:  errMockContent,
		},
		{
			name:   "empty corpus",
			setup:  func(h *harness) { h.content.lines = nil },
			reason: roast.ReasonContentUnavailable,
			cause:  nil,
		},
		{
			name:   "storage read failure",
			setup:  func(h *harness) { h.store.loadShouldFail = true },
			reason: roast.ReasonStorageError,
			cause:  errMockStorage,
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t)
			h.consent(testTarget)
			testCase.setup(h)

			_, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
			requireAbort(t, err, testCase.reason)

			if testCase.cause != nil {
				require.ErrorIs(t, err, testCase.cause)
			}

			assert.Zero(t, h.store.updates)
			assertUntouched(t, h)

			// The issuer may immediately try again once the fault clears.
			h.synthesizer.shouldFail = false
			h.deliverer.shouldFail = false
			h.content.shouldFail = false
			h.content.lines = map[state.Tier][]string{state.TierTame: {"Retry roast."}}
			h.store.loadShouldFail = false

			_, err = h.service.Roast(context.Background(), roastRequest("tame", "silly"))
			require.NoError(t, err)
		})
	}
}

func TestRoast_SafeModeBlocksProfanityBeforeSynthesis(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)
	h.content.lines = map[state.Tier][]string{state.TierSpicy: {"Well DAMN, that haircut."}}
	h.editDocument(func(doc *state.Document) {
		doc.SetSafeMode(testGroup, true)
	})

	outcome, err := h.service.Roast(context.Background(), roastRequest("spicy", "silly"))
	abortErr := requireAbort(t, err, roast.ReasonProfanityBlocked)
	assert.Equal(t, roast.StateContentSelected, abortErr.State)
	assert.Equal(t, 1, h.picker.calls)
	assert.Zero(t, h.synthesizer.calls, "synthesis must not run for blocked content")
	assert.Zero(t, h.deliverer.calls)
	assert.Equal(t, "Well DAMN, that haircut.", outcome.Line)
	assertUntouched(t, h)
}

func TestRoast_ProfanityAllowedWithoutSafeMode(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)
	h.content.lines = map[state.Tier][]string{state.TierSpicy: {"Well damn, that haircut."}}

	_, err := h.service.Roast(context.Background(), roastRequest("spicy", "silly"))
	require.NoError(t, err)
	assert.Equal(t, 1, h.synthesizer.calls)
}

func TestRoast_CommitRetriedUntilRecorded(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)
	h.store.updateFailures = 2

	outcome, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	require.NoError(t, err)
	assert.Equal(t, roast.StateLogged, outcome.Trace[len(outcome.Trace)-1])

	doc := h.store.snapshot()
	assert.Len(t, doc.RoastLog, 1)
	assert.Equal(t, h.clock.Now().UnixMilli(), doc.LastRoastTime(testIssuer))
}

func TestRoast_CommitFailureSurfacedDistinctly(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)
	h.store.updateFailures = -1

	outcome, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	require.Error(t, err)

	var commitErr *roast.CommitError

	require.ErrorAs(t, err, &commitErr)
	require.ErrorIs(t, err, roast.ErrStorage)
	assert.False(t, errors.As(err, new(*roast.AbortError)), "delivered roasts are not aborts")
	assert.Equal(t, 1, h.deliverer.calls)
	assert.Equal(t, outcome.Receipt, commitErr.Receipt)
	assert.Equal(t, testIssuer, commitErr.Event.IssuerUserID)
	assert.Contains(t, outcome.Trace, roast.StateDelivered)
}

func TestRoast_CommitSurvivesCallerCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Every collaborator in the harness ignores ctx, so the workflow reaches
	// the commit with an already cancelled caller context.
	_, err := h.service.Roast(ctx, roastRequest("tame", "silly"))
	require.NoError(t, err)
	assert.Len(t, h.store.snapshot().RoastLog, 1)
}

func TestRoast_LogRetentionBound(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.consent(testTarget)
	h.editDocument(func(doc *state.Document) {
		for i := range state.DefaultLogRetention {
			doc.AppendEvent(state.RoastEvent{
				Timestamp:    int64(i + 1),
				TargetUserID: testTarget,
				IssuerUserID: state.UserID(5000 + i),
				Tier:         state.TierTame,
				GroupID:      testGroup,
			}, state.DefaultLogRetention)
		}
	})

	previous := h.store.snapshot().RoastLog

	outcome, err := h.service.Roast(context.Background(), roastRequest("tame", "silly"))
	require.NoError(t, err)

	current := h.store.snapshot().RoastLog
	require.Len(t, current, state.DefaultLogRetention)
	assert.Equal(t, previous[1:], current[:len(current)-1])
	assert.Equal(t, outcome.Event, current[len(current)-1])
}

func TestConsentOperations(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	assert.False(t, h.store.snapshot().IsConsenting(testTarget))

	require.NoError(t, h.service.AllowRoasts(ctx, testTarget))
	assert.True(t, h.store.snapshot().IsConsenting(testTarget))

	require.NoError(t, h.service.AllowRoasts(ctx, testTarget))
	assert.True(t, h.store.snapshot().IsConsenting(testTarget))

	require.NoError(t, h.service.StopRoasts(ctx, testTarget))
	assert.False(t, h.store.snapshot().IsConsenting(testTarget))

	_, err := h.service.Roast(ctx, roastRequest("tame", "silly"))
	requireAbort(t, err, roast.ReasonConsentDenied)

	err = h.service.AllowRoasts(ctx, 0)
	requireAbort(t, err, roast.ReasonInvalidArgument)

	h.store.updateFailures = 1
	err = h.service.AllowRoasts(ctx, testTarget)
	requireAbort(t, err, roast.ReasonStorageError)
}

func TestAdminOperations_RequireAdmin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	err := h.service.SetSafeMode(ctx, testGroup, testIssuer, true)
	requireAbort(t, err, roast.ReasonPermissionDenied)

	err = h.service.SetNuclearOK(ctx, testGroup, testIssuer, true)
	requireAbort(t, err, roast.ReasonPermissionDenied)

	_, err = h.service.SetDefaultVoiceMode(ctx, testGroup, testIssuer, "robot")
	requireAbort(t, err, roast.ReasonPermissionDenied)

	_, err = h.service.RecentRoasts(ctx, testGroup, testIssuer)
	requireAbort(t, err, roast.ReasonPermissionDenied)

	_, err = h.service.ListVoices(ctx, testGroup, testIssuer)
	requireAbort(t, err, roast.ReasonPermissionDenied)

	assert.Zero(t, h.store.updates)
	assert.Equal(t, state.GroupPolicy{
		SafeMode:         false,
		NuclearOK:        false,
		DefaultVoiceMode: state.VoiceSilly,
	}, h.store.snapshot().GroupPolicy(testGroup))

	h.admins.shouldFail = true
	err = h.service.SetSafeMode(ctx, testGroup, testAdmin, true)
	requireAbort(t, err, roast.ReasonPermissionDenied)
	require.ErrorIs(t, err, errMockAdmin)
}

func TestAdminOperations_UpdatePolicy(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.service.SetSafeMode(ctx, testGroup, testAdmin, true))
	require.NoError(t, h.service.SetNuclearOK(ctx, testGroup, testAdmin, true))

	mode, err := h.service.SetDefaultVoiceMode(ctx, testGroup, testAdmin, "Sultry")
	require.NoError(t, err)
	assert.Equal(t, state.VoiceSultry, mode)

	assert.Equal(t, state.GroupPolicy{
		SafeMode:         true,
		NuclearOK:        true,
		DefaultVoiceMode: state.VoiceSultry,
	}, h.store.snapshot().GroupPolicy(testGroup))

	_, err = h.service.SetDefaultVoiceMode(ctx, testGroup, testAdmin, "opera")
	requireAbort(t, err, roast.ReasonInvalidArgument)

	_, err = h.service.SetDefaultVoiceMode(ctx, testGroup, testAdmin, "")
	requireAbort(t, err, roast.ReasonInvalidArgument)

	require.NoError(t, h.service.SetNuclearOK(ctx, testGroup, testAdmin, false))
	assert.False(t, h.store.snapshot().GroupPolicy(testGroup).NuclearOK)
}

func TestRecentRoasts(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.editDocument(func(doc *state.Document) {
		for i := range 15 {
			group := testGroup
			if i%2 == 1 {
				group = testGroup - 1
			}

			doc.AppendEvent(state.RoastEvent{
				Timestamp:    int64(i),
				TargetUserID: testTarget,
				IssuerUserID: testIssuer,
				Tier:         state.TierTame,
				GroupID:      group,
			}, 0)
		}
	})

	recent, err := h.service.RecentRoasts(context.Background(), testGroup, testAdmin)
	require.NoError(t, err)
	require.Len(t, recent, 8)
	assert.Equal(t, int64(14), recent[0].Timestamp)
	assert.Equal(t, int64(0), recent[7].Timestamp)

	for _, event := range recent {
		assert.Equal(t, testGroup, event.GroupID)
	}

	h.store.loadShouldFail = true
	_, err = h.service.RecentRoasts(context.Background(), testGroup, testAdmin)
	requireAbort(t, err, roast.ReasonStorageError)
}

func TestListVoices(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	voices, err := h.service.ListVoices(context.Background(), testGroup, testAdmin)
	require.NoError(t, err)
	require.Len(t, voices, 1)
	assert.Equal(t, "Rachel", voices[0].Name)

	h.voices.shouldFail = true
	_, err = h.service.ListVoices(context.Background(), testGroup, testAdmin)
	requireAbort(t, err, roast.ReasonSynthesisFailed)
	require.ErrorIs(t, err, errMockVoices)
}

func TestNewService_MissingDependency(t *testing.T) {
	t.Parallel()

	_, err := roast.NewService(roast.Dependencies{}, roast.Config{}, nil)
	require.ErrorIs(t, err, roast.ErrMissingDependency)
}
