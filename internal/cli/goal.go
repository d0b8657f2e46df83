package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/greenhouse-network/sentinel/internal/greenhouse"
	"github.com/greenhouse-network/sentinel/internal/orchestrator"
)

func init() {
	rootCmd.AddCommand(goalCmd)
}

var goalCmd = &cobra.Command{
	Use:   "goal <json>",
	Short: "Run the validation-chain workflow once against a goal and exit",
	Long: `Accepts a single argv string that parses as a JSON object with field
"command". Exits 0 if the workflow's validator accepted the result, 1 on
workflow failure or malformed input. Always writes one JSON document to
stdout.`,
	Args: cobra.ExactArgs(1),
	RunE: runGoal,
}

type goalIngress struct {
	Command string `json:"command"`
}

func runGoal(cmd *cobra.Command, args []string) error {
	var in goalIngress
	if err := json.Unmarshal([]byte(args[0]), &in); err != nil || in.Command == "" {
		fmt.Println(`{"status":"error","reason":"malformed goal ingress"}`)
		os.Exit(1)
	}

	log := zerolog.Nop()
	cfg := greenhouse.DefaultConfig()
	rt, err := greenhouse.New(cfg, log)
	if err != nil {
		fmt.Printf(`{"status":"error","reason":%q}`+"\n", err.Error())
		os.Exit(1)
	}
	defer rt.Stop()

	ctx := context.Background()
	for _, role := range []string{"coder", "tester", "documenter", "validator"} {
		if _, err := rt.Agents.Spawn(ctx, role, role+"-1", nil); err != nil {
			fmt.Printf(`{"status":"error","reason":%q}`+"\n", err.Error())
			os.Exit(1)
		}
	}

	state, err := rt.RunGoal(ctx, in.Command)
	if err != nil {
		fmt.Printf(`{"status":"error","reason":%q}`+"\n", err.Error())
		os.Exit(1)
	}

	body, _ := json.Marshal(state)
	fmt.Println(string(body))
	if state.Status != orchestrator.StatusCompleted {
		os.Exit(1)
	}
	return nil
}
