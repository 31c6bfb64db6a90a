// cmd/coherence/main.go
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/fatih/color"

	"github.com/ssd-technologies/coherence/internal/config"
	"github.com/ssd-technologies/coherence/internal/identity"
	"github.com/ssd-technologies/coherence/internal/protocol"
	"github.com/ssd-technologies/coherence/internal/reward"
	"github.com/ssd-technologies/coherence/internal/storage"
	"github.com/ssd-technologies/coherence/internal/tier"
)

const usage = `Usage: coherence <command> [args]

Commands:
  stake-status [agent]          balances and active stakes
  reward-status [agent]         profile and reward history
  estimate <action> [agent]     estimate a reward without disbursing
  profile [agent]               agent performance profile
  faucet <amount> [agent]       mint bootstrap tokens
  tiers                         show the tier table
`

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "stake-status":
		cmdStakeStatus(os.Args[2:])
	case "reward-status":
		cmdRewardStatus(os.Args[2:])
	case "estimate":
		cmdEstimate(os.Args[2:])
	case "profile":
		cmdProfile(os.Args[2:])
	case "faucet":
		cmdFaucet(os.Args[2:])
	case "tiers":
		cmdTiers()
	default:
		fmt.Printf("Unknown command: %s\n", os.Args[1])
		fmt.Print(usage)
		os.Exit(1)
	}
}

func fatal(err error) {
	color.Red("Error: %v", err)
	os.Exit(1)
}

// noOracle stands in when no semantic-analysis service is configured; every
// oracle-backed action fails with a clear message.
type noOracle struct{}

var errNoOracle = errors.New("no oracle configured; set one up before verification actions")

func (noOracle) Analyze(string) (protocol.Analysis, error) {
	return protocol.Analysis{}, errNoOracle
}
func (noOracle) Compare(string, string) (protocol.Comparison, error) {
	return protocol.Comparison{}, errNoOracle
}
func (noOracle) Recall(string, int, float64) ([]protocol.Recalled, error) {
	return nil, errNoOracle
}

// openContext builds the coherence context from the on-disk configuration
// and stores. Returns the context and the node's own agent id.
func openContext() (*protocol.Context, string) {
	cfg, err := config.Load(configPath())
	if err != nil {
		fatal(err)
	}

	signer, err := identity.LoadOrGenerate(cfg.KeyFile)
	if err != nil {
		fatal(err)
	}

	store, err := storage.NewStore(cfg.DataDir)
	if err != nil {
		fatal(err)
	}
	archive, err := storage.OpenArchive(filepath.Join(cfg.DataDir, "transactions.db"))
	if err != nil {
		fatal(err)
	}

	ctx, err := protocol.New(cfg, noOracle{},
		protocol.WithSigner(signer),
		protocol.WithNodeID(signer.AgentID()),
		protocol.WithStore(store, archive),
	)
	if err != nil {
		fatal(err)
	}
	return ctx, signer.AgentID()
}

func configPath() string {
	if p := os.Getenv("COHERENCE_CONFIG"); p != "" {
		return p
	}
	return "coherence.yaml"
}

// agentArg returns the explicit agent id argument, or the node's own id.
func agentArg(args []string, self string) string {
	if len(args) > 0 {
		return args[0]
	}
	return self
}

func cmdStakeStatus(args []string) {
	ctx, self := openContext()
	st, err := ctx.StakeStatusFor(agentArg(args, self))
	if err != nil {
		fatal(err)
	}

	color.Cyan("Agent %s", st.AgentID)
	fmt.Printf("  balance:      %d\n", st.Balance)
	fmt.Printf("  tier stake:   %d\n", st.Staked)
	fmt.Printf("  task locked:  %d\n", st.TotalLocked)
	fmt.Printf("  available:    %d\n", st.Available)
	if len(st.ActiveStakes) == 0 {
		fmt.Println("  no active stakes")
		return
	}
	for _, s := range st.ActiveStakes {
		fmt.Printf("  stake %s: %d on %s (%s)\n", s.ID[:8], s.Amount, s.TaskID, s.Reason)
	}
}

func cmdRewardStatus(args []string) {
	ctx, self := openContext()
	st, err := ctx.RewardStatusFor(agentArg(args, self))
	if err != nil {
		fatal(err)
	}

	color.Cyan("Agent %s (%s)", st.Profile.AgentID, st.Profile.Tier)
	fmt.Printf("  coherence score: %.3f\n", st.Profile.CoherenceScore)
	fmt.Printf("  total rewarded:  %d\n", st.TotalRewarded)
	fmt.Printf("  total slashed:   %d\n", st.TotalSlashed)
	for _, rec := range st.History {
		line := fmt.Sprintf("  %s %s %+d %s", rec.Kind, rec.Action, rec.Amount, rec.Memo)
		if rec.Kind == reward.RecordSlash {
			color.Red(line)
		} else {
			fmt.Println(line)
		}
	}
}

func cmdEstimate(args []string) {
	if len(args) < 1 {
		fatal(errors.New("usage: coherence estimate <action> [agent]"))
	}
	ctx, self := openContext()
	amount, err := ctx.EstimateReward(agentArg(args[1:], self), reward.Action(args[0]))
	if err != nil {
		fatal(err)
	}
	color.Green("%s would pay %d", args[0], amount)
}

func cmdProfile(args []string) {
	ctx, self := openContext()
	p, err := ctx.Profile(agentArg(args, self))
	if err != nil {
		fatal(err)
	}

	color.Cyan("Agent %s (%s)", p.AgentID, p.Tier)
	fmt.Printf("  claims:         %d submitted, %d accepted\n", p.ClaimsSubmitted, p.ClaimsAccepted)
	fmt.Printf("  verifications:  %d completed, %d correct\n", p.VerificationsCompleted, p.VerificationsCorrect)
	fmt.Printf("  syntheses:      %d (avg rating %.2f)\n", p.SynthesisCreated, p.SynthesisRating)
	fmt.Printf("  vouches:        %d\n", p.FriendVouches)
	fmt.Printf("  total slashed:  %d\n", p.TotalSlashed)
	fmt.Printf("  coherence:      %.3f\n", p.CoherenceScore)
}

func cmdFaucet(args []string) {
	if len(args) < 1 {
		fatal(errors.New("usage: coherence faucet <amount> [agent]"))
	}
	amount, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fatal(fmt.Errorf("bad amount %q: %w", args[0], err))
	}

	ctx, self := openContext()
	agent := agentArg(args[1:], self)
	tx, err := ctx.Faucet(agent, amount, "cli faucet")
	if err != nil {
		fatal(err)
	}
	color.Green("minted %d to %s (tx %s)", amount, agent, tx.ID[:8])
}

func cmdTiers() {
	for _, lvl := range tier.Levels() {
		fmt.Printf("%-10s min %6d  x%.1f  %v\n", lvl.Tier, lvl.MinStake, lvl.RewardMultiplier, lvl.Capabilities)
	}
}
