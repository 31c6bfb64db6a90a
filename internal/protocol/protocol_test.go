package protocol

import (
	"errors"
	"testing"
	"time"

	"github.com/ssd-technologies/coherence/internal/claimgraph"
	"github.com/ssd-technologies/coherence/internal/config"
	"github.com/ssd-technologies/coherence/internal/identity"
	"github.com/ssd-technologies/coherence/internal/ledger"
	"github.com/ssd-technologies/coherence/internal/reward"
	"github.com/ssd-technologies/coherence/internal/storage"
)

// fakeOracle answers every query with fixed numbers.
type fakeOracle struct {
	coherence  float64
	similarity float64
	err        error
}

func (o *fakeOracle) Analyze(string) (Analysis, error) {
	return Analysis{Coherence: o.coherence}, o.err
}

func (o *fakeOracle) Compare(string, string) (Comparison, error) {
	return Comparison{Similarity: o.similarity}, o.err
}

func (o *fakeOracle) Recall(string, int, float64) ([]Recalled, error) { return nil, nil }

func newTestContext(t *testing.T, oracle Oracle, opts ...Option) *Context {
	t.Helper()
	c, err := New(config.Default(), oracle, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func fund(t *testing.T, c *Context, agentID string, amount int64) {
	t.Helper()
	if _, err := c.Faucet(agentID, amount, "test"); err != nil {
		t.Fatalf("faucet %s: %v", agentID, err)
	}
}

func TestClaimTaskTierGate(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "author", 100)

	task, err := c.CreateTask(TaskVerify, "", 10)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	// A neophyte with no holdings cannot claim verification work.
	if _, err := c.ClaimTask(task.ID, "newcomer"); !errors.Is(err, ErrInsufficientTier) {
		t.Fatalf("err = %v, want ErrInsufficientTier", err)
	}
	got, _ := c.Task(task.ID)
	if got.Status != TaskPending {
		t.Errorf("Status = %s, want %s (gate must not consume the task)", got.Status, TaskPending)
	}
	if locked := c.Stakes().TotalLocked("newcomer"); locked != 0 {
		t.Errorf("TotalLocked = %d, want 0 (no stake locked on refusal)", locked)
	}
}

func TestTaskLifecycle(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "bob", 100) // adept

	task, err := c.CreateTask(TaskVerify, "", 10)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	claimed, err := c.ClaimTask(task.ID, "bob")
	if err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}
	if claimed.Status != TaskClaimed || claimed.Deadline == 0 {
		t.Errorf("claimed task = %+v", claimed)
	}
	if got := c.Book().Available("bob"); got != 90 {
		t.Errorf("Available = %d, want 90 (stake locked)", got)
	}

	// Second claimant is turned away.
	fund(t, c, "carol", 100)
	if _, err := c.ClaimTask(task.ID, "carol"); !errors.Is(err, ErrTaskNotPending) {
		t.Fatalf("double claim err = %v, want ErrTaskNotPending", err)
	}

	// Only the assignee can submit.
	if _, err := c.SubmitResult(task.ID, "carol", claimgraph.ResultVerified, ""); !errors.Is(err, ErrNotAssignedToYou) {
		t.Fatalf("wrong agent err = %v, want ErrNotAssignedToYou", err)
	}

	done, err := c.SubmitResult(task.ID, "bob", claimgraph.ResultVerified, "checked sources")
	if err != nil {
		t.Fatalf("SubmitResult: %v", err)
	}
	if done.Status != TaskCompleted || done.Reward <= 0 {
		t.Errorf("completed task = %+v", done)
	}
	if got := c.Book().Available("bob"); got != 100+done.Reward {
		t.Errorf("Available = %d, want %d (stake back, reward in)", got, 100+done.Reward)
	}
	rewards := c.Book().History("bob", ledger.Filter{Kind: ledger.KindReward}, 0, 0)
	if len(rewards) != 1 {
		t.Fatalf("reward credits = %d, want exactly 1", len(rewards))
	}

	// Re-submitting a completed task fails cleanly.
	if _, err := c.SubmitResult(task.ID, "bob", claimgraph.ResultVerified, ""); !errors.Is(err, ErrTaskNotClaimed) {
		t.Fatalf("retry err = %v, want ErrTaskNotClaimed", err)
	}
	if got := len(c.Book().History("bob", ledger.Filter{Kind: ledger.KindReward}, 0, 0)); got != 1 {
		t.Errorf("reward credits after retry = %d, want still 1", got)
	}
}

// Two concurrent submits for the same task: exactly one wins, the loser gets
// ErrTaskNotClaimed, and only one reward is paid.
func TestConcurrentDoubleSubmit(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "bob", 100)

	task, _ := c.CreateTask(TaskVerify, "", 10)
	if _, err := c.ClaimTask(task.ID, "bob"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := c.SubmitResult(task.ID, "bob", claimgraph.ResultVerified, "")
			errs <- err
		}()
	}

	var wins, losses int
	for i := 0; i < 2; i++ {
		switch err := <-errs; {
		case err == nil:
			wins++
		case errors.Is(err, ErrTaskNotClaimed):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || losses != 1 {
		t.Fatalf("wins = %d, losses = %d, want 1 and 1", wins, losses)
	}
	if got := len(c.Book().History("bob", ledger.Filter{Kind: ledger.KindReward}, 0, 0)); got != 1 {
		t.Errorf("reward credits = %d, want exactly 1", got)
	}
}

func TestTaskExpiry(t *testing.T) {
	now := time.Unix(1700000000, 0)
	c := newTestContext(t, &fakeOracle{}, WithClock(func() time.Time { return now }))
	fund(t, c, "bob", 100)

	task, _ := c.CreateTask(TaskVerify, "", 10)
	if _, err := c.ClaimTask(task.ID, "bob"); err != nil {
		t.Fatalf("ClaimTask: %v", err)
	}

	// Inside the window the sweep leaves the task alone.
	now = now.Add(59 * time.Minute)
	if expired, _ := c.ExpireStale(24 * time.Hour); len(expired) != 0 {
		t.Fatalf("premature expiry: %+v", expired)
	}

	now = now.Add(2 * time.Minute)
	expired, err := c.ExpireStale(24 * time.Hour)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if len(expired) != 1 || expired[0].ID != task.ID {
		t.Fatalf("expired = %+v, want the claimed task", expired)
	}

	// 10% of the 10-token stake is burned, the rest comes back.
	if got := c.Book().Balance("bob"); got != 99 {
		t.Errorf("Balance = %d, want 99", got)
	}
	if got := c.Book().Available("bob"); got != 99 {
		t.Errorf("Available = %d, want 99", got)
	}

	// Expired tasks are dead: no late submit, no re-claim.
	if _, err := c.SubmitResult(task.ID, "bob", claimgraph.ResultVerified, ""); !errors.Is(err, ErrTaskNotClaimed) {
		t.Errorf("late submit err = %v, want ErrTaskNotClaimed", err)
	}
	if _, err := c.ClaimTask(task.ID, "bob"); !errors.Is(err, ErrTaskNotPending) {
		t.Errorf("re-claim err = %v, want ErrTaskNotPending", err)
	}

	// The sweep is idempotent.
	if again, _ := c.ExpireStale(24 * time.Hour); len(again) != 0 {
		t.Errorf("second sweep expired %d tasks, want 0", len(again))
	}
}

// Sweeping an orphan bond debits the ledger, so the sweep must reach disk
// even when no task expired alongside it.
func TestExpireStalePersistsOrphanSweep(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.NewStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	now := time.Unix(1700000000, 0)
	c := newTestContext(t, &fakeOracle{},
		WithStore(st, nil),
		WithClock(func() time.Time { return now }))
	fund(t, c, "alice", 100)
	if _, err := c.SubmitClaim("alice", "forgotten claim", 10, ""); err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}

	now = now.Add(2 * time.Hour)
	expired, err := c.ExpireStale(time.Hour)
	if err != nil {
		t.Fatalf("ExpireStale: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("expired tasks = %+v, want none", expired)
	}
	// 10% of the 10-token bond burned by the sweep.
	if got := c.Book().Balance("alice"); got != 99 {
		t.Fatalf("Balance = %d, want 99", got)
	}

	st2, err := storage.NewStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	c2 := newTestContext(t, &fakeOracle{}, WithStore(st2, nil))
	if got := c2.Book().Balance("alice"); got != 99 {
		t.Errorf("restored balance = %d, want 99 (sweep was not persisted)", got)
	}
	if got := c2.Book().Available("alice"); got != 99 {
		t.Errorf("restored available = %d, want 99 (no stale reservation)", got)
	}
}

func TestSubmitClaimLocksBond(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "alice", 100)

	claim, err := c.SubmitClaim("alice", "the sky is blue", 10, "")
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	if claim.Status != claimgraph.StatusSubmitted {
		t.Errorf("Status = %s, want %s", claim.Status, claimgraph.StatusSubmitted)
	}
	if got := c.Book().Available("alice"); got != 90 {
		t.Errorf("Available = %d, want 90", got)
	}
	if got := c.Rewards().Profile("alice").ClaimsSubmitted; got != 1 {
		t.Errorf("ClaimsSubmitted = %d, want 1", got)
	}
}

func TestSubmitClaimStoresSemanticHash(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "alice", 100)

	claim, err := c.SubmitClaim("alice", "the sky is blue", 10, "deadbeef")
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	stored, err := c.Graph().Get(claim.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.SemanticHash != "deadbeef" {
		t.Errorf("SemanticHash = %q, want deadbeef", stored.SemanticHash)
	}
}

func TestSubmitClaimInsufficientFundsArchivesClaim(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "alice", 5)

	if _, err := c.SubmitClaim("alice", "too rich for me", 10, ""); !errors.Is(err, ledger.ErrInsufficientAvailableBalance) {
		t.Fatalf("err = %v, want ErrInsufficientAvailableBalance", err)
	}

	// The half-created claim must not stay live.
	for _, claim := range c.Graph().Claims() {
		if claim.Status != claimgraph.StatusArchived {
			t.Errorf("orphan claim left in status %s", claim.Status)
		}
	}
	if got := c.Rewards().Profile("alice").ClaimsSubmitted; got != 0 {
		t.Errorf("ClaimsSubmitted = %d, want 0", got)
	}
}

func TestVerifyClaimVerdicts(t *testing.T) {
	tests := []struct {
		name      string
		coherence float64
		want      string
	}{
		{"high coherence verifies", 0.8, claimgraph.StatusVerified},
		{"low coherence rejects", 0.2, claimgraph.StatusRejected},
		{"middling coherence disputes", 0.5, claimgraph.StatusDisputed},
		{"exactly at verify threshold disputes", 0.7, claimgraph.StatusDisputed},
		{"exactly at reject threshold disputes", 0.3, claimgraph.StatusDisputed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oracle := &fakeOracle{coherence: tt.coherence}
			c := newTestContext(t, oracle)
			fund(t, c, "author", 100)
			fund(t, c, "verifier", 100)

			claim, err := c.SubmitClaim("author", "a claim", 10, "")
			if err != nil {
				t.Fatalf("SubmitClaim: %v", err)
			}
			updated, err := c.VerifyClaim(claim.ID, "verifier")
			if err != nil {
				t.Fatalf("VerifyClaim: %v", err)
			}
			if updated.Status != tt.want {
				t.Errorf("Status = %s, want %s", updated.Status, tt.want)
			}

			switch tt.want {
			case claimgraph.StatusVerified:
				// Bond released, author paid the acceptance reward.
				if got := c.Stakes().TotalLocked("author"); got != 0 {
					t.Errorf("TotalLocked = %d, want 0", got)
				}
				if got := c.Book().Balance("author"); got <= 100 {
					t.Errorf("author balance = %d, want above 100", got)
				}
			case claimgraph.StatusRejected:
				// Half the 10-token bond is forfeited.
				if got := c.Book().Balance("author"); got != 95 {
					t.Errorf("author balance = %d, want 95", got)
				}
				if got := c.Stakes().TotalLocked("author"); got != 0 {
					t.Errorf("TotalLocked = %d, want 0", got)
				}
			case claimgraph.StatusDisputed:
				// Bond stays locked pending re-verification.
				if got := c.Stakes().TotalLocked("author"); got != 10 {
					t.Errorf("TotalLocked = %d, want 10", got)
				}
			}

			// The verifier is paid either way.
			if got := c.Rewards().Profile("verifier").VerificationsCompleted; got != 1 {
				t.Errorf("VerificationsCompleted = %d, want 1", got)
			}
		})
	}
}

func TestVerifyClaimRequiresAdept(t *testing.T) {
	c := newTestContext(t, &fakeOracle{coherence: 0.9})
	fund(t, c, "author", 100)

	claim, _ := c.SubmitClaim("author", "a claim", 10, "")
	if _, err := c.VerifyClaim(claim.ID, "newcomer"); !errors.Is(err, ErrInsufficientTier) {
		t.Fatalf("err = %v, want ErrInsufficientTier", err)
	}
}

func TestDisputedClaimReVerifies(t *testing.T) {
	oracle := &fakeOracle{coherence: 0.5}
	c := newTestContext(t, oracle)
	fund(t, c, "author", 100)
	fund(t, c, "verifier", 100)

	claim, _ := c.SubmitClaim("author", "contested", 10, "")
	if _, err := c.VerifyClaim(claim.ID, "verifier"); err != nil {
		t.Fatalf("first verify: %v", err)
	}

	oracle.coherence = 0.9
	updated, err := c.VerifyClaim(claim.ID, "verifier")
	if err != nil {
		t.Fatalf("re-verify: %v", err)
	}
	if updated.Status != claimgraph.StatusVerified {
		t.Errorf("Status = %s, want %s", updated.Status, claimgraph.StatusVerified)
	}
	if got := c.Stakes().TotalLocked("author"); got != 0 {
		t.Errorf("TotalLocked = %d, want 0 (bond settled on the second pass)", got)
	}
}

// Concurrent verifiers of the same claim: only one of them settles the bond,
// so the author is paid the acceptance reward exactly once.
func TestConcurrentVerifySettlesBondOnce(t *testing.T) {
	c := newTestContext(t, &fakeOracle{coherence: 0.9})
	fund(t, c, "author", 100)

	verifiers := []string{"v1", "v2", "v3", "v4"}
	for _, v := range verifiers {
		fund(t, c, v, 100)
	}

	claim, err := c.SubmitClaim("author", "contested claim", 10, "")
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}

	errs := make(chan error, len(verifiers))
	for _, v := range verifiers {
		go func(verifier string) {
			_, err := c.VerifyClaim(claim.ID, verifier)
			errs <- err
		}(v)
	}
	for range verifiers {
		if err := <-errs; err != nil {
			t.Fatalf("VerifyClaim: %v", err)
		}
	}

	p := c.Rewards().Profile("author")
	if p.ClaimsAccepted != 1 {
		t.Errorf("ClaimsAccepted = %d, want 1", p.ClaimsAccepted)
	}
	var accepted int
	for _, rec := range c.Rewards().History() {
		if rec.AgentID == "author" && rec.Action == reward.ActionClaimAccepted {
			accepted++
		}
	}
	if accepted != 1 {
		t.Errorf("acceptance rewards = %d, want exactly 1", accepted)
	}
	if got := c.Stakes().TotalLocked("author"); got != 0 {
		t.Errorf("TotalLocked = %d, want 0", got)
	}
}

func TestFindCounterexample(t *testing.T) {
	oracle := &fakeOracle{similarity: 0.4}
	c := newTestContext(t, oracle)
	fund(t, c, "author", 100)
	fund(t, c, "challenger", 100)

	claim, _ := c.SubmitClaim("author", "all swans are white", 10, "")

	// Weak contradiction: nothing recorded, nothing paid.
	edge, found, err := c.FindCounterexample(claim.ID, "challenger", "a black swan exists", "")
	if err != nil {
		t.Fatalf("FindCounterexample: %v", err)
	}
	if found || edge != nil {
		t.Fatalf("weak counterexample accepted: found=%v edge=%+v", found, edge)
	}

	oracle.similarity = 0.9
	edge, found, err = c.FindCounterexample(claim.ID, "challenger", "a black swan exists", "photo")
	if err != nil {
		t.Fatalf("FindCounterexample: %v", err)
	}
	if !found || edge == nil || edge.EdgeType != claimgraph.EdgeContradicts {
		t.Fatalf("counterexample = (%+v, %v)", edge, found)
	}

	disputed, _ := c.Graph().Get(claim.ID)
	if disputed.Status != claimgraph.StatusDisputed {
		t.Errorf("claim status = %s, want %s", disputed.Status, claimgraph.StatusDisputed)
	}
	if disputed.EdgeCounts.Contradicts != 1 {
		t.Errorf("Contradicts = %d, want 1", disputed.EdgeCounts.Contradicts)
	}
	// A found counterexample counts as a correct verification.
	p := c.Rewards().Profile("challenger")
	if p.VerificationsCompleted != 1 || p.VerificationsCorrect != 1 {
		t.Errorf("verification counters = (%d, %d), want (1, 1)", p.VerificationsCompleted, p.VerificationsCorrect)
	}
}

func TestSynthesisLifecycle(t *testing.T) {
	c := newTestContext(t, &fakeOracle{coherence: 0.9})
	fund(t, c, "author", 100)
	fund(t, c, "magus", 2000)

	a, _ := c.SubmitClaim("author", "claim a", 10, "")
	b, _ := c.SubmitClaim("author", "claim b", 10, "")
	if _, err := c.VerifyClaim(a.ID, "magus"); err != nil {
		t.Fatalf("verify a: %v", err)
	}
	if _, err := c.VerifyClaim(b.ID, "magus"); err != nil {
		t.Fatalf("verify b: %v", err)
	}

	s, err := c.CreateSynthesis("magus", "title", "summary", []string{a.ID, b.ID}, nil, "", 20)
	if err != nil {
		t.Fatalf("CreateSynthesis: %v", err)
	}
	if s.Status != SynthesisDraft {
		t.Errorf("Status = %s, want %s", s.Status, SynthesisDraft)
	}
	if got := c.Stakes().TotalLocked("magus"); got != 20 {
		t.Errorf("TotalLocked = %d, want 20", got)
	}

	// Only the author can publish.
	if _, err := c.PublishSynthesis(s.ID, "author"); !errors.Is(err, ErrNotAssignedToYou) {
		t.Fatalf("wrong publisher err = %v, want ErrNotAssignedToYou", err)
	}

	published, err := c.PublishSynthesis(s.ID, "magus")
	if err != nil {
		t.Fatalf("PublishSynthesis: %v", err)
	}
	if published.Status != SynthesisPublished || published.PublishedAt == 0 {
		t.Errorf("published = %+v", published)
	}
	if got := c.Stakes().TotalLocked("magus"); got != 0 {
		t.Errorf("TotalLocked = %d, want 0 (bond released)", got)
	}
	if got := c.Rewards().Profile("magus").SynthesisCreated; got != 1 {
		t.Errorf("SynthesisCreated = %d, want 1", got)
	}

	// Publishing twice is a no-op, not a second payout.
	if _, err := c.PublishSynthesis(s.ID, "magus"); err != nil {
		t.Fatalf("republish: %v", err)
	}
	if got := c.Rewards().Profile("magus").SynthesisCreated; got != 1 {
		t.Errorf("SynthesisCreated after republish = %d, want 1", got)
	}
}

// The tier gate must run before the stake lock: a failed synthesis attempt
// leaves no funds tied up.
func TestSynthesisTierGateBeforeStake(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "adept", 100)

	if _, err := c.CreateSynthesis("adept", "t", "s", nil, nil, "", 20); !errors.Is(err, ErrInsufficientTier) {
		t.Fatalf("err = %v, want ErrInsufficientTier", err)
	}
	if got := c.Stakes().TotalLocked("adept"); got != 0 {
		t.Errorf("TotalLocked = %d, want 0", got)
	}
}

func TestSynthesisRejectsUnverifiedClaims(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "magus", 2000)

	claim, _ := c.SubmitClaim("magus", "unverified", 10, "")
	if _, err := c.CreateSynthesis("magus", "t", "s", []string{claim.ID}, nil, "", 20); err == nil {
		t.Fatal("synthesis over an unverified claim succeeded")
	}
	if got := c.Stakes().TotalLocked("magus"); got != 10 {
		t.Errorf("TotalLocked = %d, want 10 (only the claim bond)", got)
	}
}

func TestSecurityReviewRequiresArchon(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "author", 100)
	fund(t, c, "magus", 2000)
	fund(t, c, "archon", 20000)

	claim, _ := c.SubmitClaim("author", "handles secrets safely", 10, "")

	if _, err := c.SecurityReview(claim.ID, "magus", claimgraph.ResultVerified, ""); !errors.Is(err, ErrInsufficientTier) {
		t.Fatalf("magus review err = %v, want ErrInsufficientTier", err)
	}

	updated, err := c.SecurityReview(claim.ID, "archon", claimgraph.ResultVerified, "audit notes")
	if err != nil {
		t.Fatalf("SecurityReview: %v", err)
	}
	if updated.Status != claimgraph.StatusVerified {
		t.Errorf("Status = %s, want %s", updated.Status, claimgraph.StatusVerified)
	}
	reviews := c.Book().History("archon", ledger.Filter{Kind: ledger.KindReward}, 0, 0)
	if len(reviews) != 1 {
		t.Errorf("review rewards = %d, want 1", len(reviews))
	}
}

func TestVouch(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})

	voucher, err := identity.New()
	if err != nil {
		t.Fatalf("identity.New: %v", err)
	}
	voucherID := voucher.AgentID()
	fund(t, c, voucherID, 100) // adept, may vouch

	ts := time.Now().Unix()
	sig := voucher.Sign(identity.VouchMessage(voucherID, "target", ts))
	if err := c.Vouch(voucherID, "target", sig, voucher.PublicKey(), ts); err != nil {
		t.Fatalf("Vouch: %v", err)
	}
	if got := c.Rewards().Profile("target").FriendVouches; got != 1 {
		t.Errorf("FriendVouches = %d, want 1", got)
	}

	// Self-vouch is refused.
	selfSig := voucher.Sign(identity.VouchMessage(voucherID, voucherID, ts))
	if err := c.Vouch(voucherID, voucherID, selfSig, voucher.PublicKey(), ts); !errors.Is(err, ErrSelfVouch) {
		t.Errorf("self vouch err = %v, want ErrSelfVouch", err)
	}

	// A signature over different contents is refused.
	if err := c.Vouch(voucherID, "other", sig, voucher.PublicKey(), ts); !errors.Is(err, ErrBadVouchSignature) {
		t.Errorf("forged vouch err = %v, want ErrBadVouchSignature", err)
	}

	// A key that does not belong to the claimed voucher is refused.
	impostor, _ := identity.New()
	impostorSig := impostor.Sign(identity.VouchMessage(voucherID, "target", ts))
	if err := c.Vouch(voucherID, "target", impostorSig, impostor.PublicKey(), ts); !errors.Is(err, ErrBadVouchSignature) {
		t.Errorf("impostor vouch err = %v, want ErrBadVouchSignature", err)
	}
}

func TestDispatch(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "alice", 100)

	resp, err := c.Dispatch(Command{Op: OpSubmitClaim, AgentID: "alice", Statement: "hello", Amount: 10})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if !resp.OK || resp.Payload == nil {
		t.Errorf("resp = %+v, want ok with payload", resp)
	}

	// Business failures come back inside the response.
	resp, err = c.Dispatch(Command{Op: OpSubmitClaim, AgentID: "alice", Statement: "hello", Amount: -1})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.OK || resp.Error == "" {
		t.Errorf("resp = %+v, want error response", resp)
	}

	resp, err = c.Dispatch(Command{Op: "no_such_op"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if resp.OK || resp.Error == "" {
		t.Errorf("unknown op resp = %+v, want error response", resp)
	}

	// Only an unbuilt context is a Go error.
	var nilCtx *Context
	if _, err := nilCtx.Dispatch(Command{Op: OpGetProfile}); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("nil context err = %v, want ErrNotInitialized", err)
	}
}

func TestStatusReports(t *testing.T) {
	c := newTestContext(t, &fakeOracle{})
	fund(t, c, "alice", 100)
	if _, err := c.SubmitClaim("alice", "a claim", 10, ""); err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}

	st, err := c.StakeStatusFor("alice")
	if err != nil {
		t.Fatalf("StakeStatusFor: %v", err)
	}
	if st.Balance != 100 || st.TotalLocked != 10 || st.Available != 90 {
		t.Errorf("stake status = %+v", st)
	}
	if len(st.ActiveStakes) != 1 {
		t.Errorf("active stakes = %d, want 1", len(st.ActiveStakes))
	}

	est, err := c.EstimateReward("alice", reward.ActionClaimVerified)
	if err != nil {
		t.Fatalf("EstimateReward: %v", err)
	}
	if est <= 0 {
		t.Errorf("estimate = %d, want positive", est)
	}
	// Estimating must not move money.
	if got := c.Book().Balance("alice"); got != 100 {
		t.Errorf("Balance = %d, want 100", got)
	}
}

func TestPersistenceAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	st, err := storage.NewStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	c := newTestContext(t, &fakeOracle{}, WithStore(st, nil), WithNodeID("alice"))
	fund(t, c, "alice", 100)
	claim, err := c.SubmitClaim("alice", "persistent claim", 10, "")
	if err != nil {
		t.Fatalf("SubmitClaim: %v", err)
	}
	task, err := c.CreateTask(TaskVerify, claim.ID, 5)
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	st2, err := storage.NewStore(dir)
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	c2 := newTestContext(t, &fakeOracle{}, WithStore(st2, nil), WithNodeID("alice"))

	if got := c2.Book().Balance("alice"); got != 100 {
		t.Errorf("restored balance = %d, want 100", got)
	}
	if got := c2.Book().Available("alice"); got != 90 {
		t.Errorf("restored available = %d, want 90 (bond re-reserved)", got)
	}
	if _, err := c2.Graph().Get(claim.ID); err != nil {
		t.Errorf("restored claim missing: %v", err)
	}
	restored, err := c2.Task(task.ID)
	if err != nil {
		t.Fatalf("restored task missing: %v", err)
	}
	if restored.Status != TaskPending {
		t.Errorf("restored task status = %s, want %s", restored.Status, TaskPending)
	}
}
