package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forestnet/forestnet/internal/soap"
	"github.com/forestnet/forestnet/internal/soap/calculator"
	"github.com/forestnet/forestnet/internal/task"
)

var (
	calcFlags *endpointFlags
	calcPath  string
)

var calcCmd = &cobra.Command{
	Use:   "calc add|subtract|multiply|divide A B",
	Short: "Call the calculator SOAP service",
	Long: `Call one operation of the calculator service on a soap-mode endpoint
and print the result. SOAP faults are reported with their code.`,
	Example: `  forestnet calc add 2 3 --port 8080
  forestnet calc divide 1 0 --soap-path /calculator`,
	Args: cobra.ExactArgs(3),
	RunE: runCalc,
}

func init() {
	calcFlags = addEndpointFlags(calcCmd.Flags(), false)
	calcCmd.Flags().StringVar(&calcPath, "soap-path", "", "Path the service listens on (defaults to the configured soap_path)")
	rootCmd.AddCommand(calcCmd)
}

func runCalc(cmd *cobra.Command, args []string) error {
	a, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid operand %q", args[1])
	}
	b, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid operand %q", args[2])
	}

	cfg, err := loadClientConfig(calcFlags)
	if err != nil {
		return err
	}
	path := calcPath
	if path == "" {
		path = cfg.SOAPPath
	}

	tc, err := task.NewClient(cfg, nil)
	if err != nil {
		return err
	}
	defer tc.Close()
	calc, err := calculator.NewClient(tc, cfg.Address(), path)
	if err != nil {
		return err
	}

	var call func(context.Context, float64, float64) (float64, error)
	switch strings.ToLower(args[0]) {
	case "add":
		call = calc.Add
	case "subtract", "sub":
		call = calc.Subtract
	case "multiply", "mul":
		call = calc.Multiply
	case "divide", "div":
		call = calc.Divide
	default:
		return fmt.Errorf("unknown operation %q (use add, subtract, multiply, divide)", args[0])
	}

	result, err := call(cmd.Context(), a, b)
	if err != nil {
		var f *soap.Fault
		if errors.As(err, &f) {
			return fmt.Errorf("fault %s: %s", f.Code, f.String)
		}
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), strconv.FormatFloat(result, 'g', -1, 64))
	return nil
}
