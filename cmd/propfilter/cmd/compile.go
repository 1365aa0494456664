package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/solatis/propfilter/internal/core/api"
	"github.com/solatis/propfilter/internal/types"
)

var parameterized bool

var compileCmd = &cobra.Command{
	Use:   "compile [request.json]",
	Short: "Compile a filter request to SQL",
	Long: `Compile reads a JSON compile request from the given file, or from stdin
when no file (or "-") is given, and prints the events query.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCompile,
}

var explainCmd = &cobra.Command{
	Use:   "explain [request.json]",
	Short: "Show how each property and entity of a request compiles",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExplain,
}

func init() {
	compileCmd.Flags().BoolVar(&parameterized, "parameterized", false, "print placeholders and their bindings instead of inlined constants")
	compileCmd.Flags().Bool("person-on-events", false, "read person properties from the events table")
	compileCmd.Flags().String("combinator", "", "default entity combinator (AND, OR)")
	explainCmd.Flags().Bool("person-on-events", false, "read person properties from the events table")
	rootCmd.AddCommand(compileCmd, explainCmd)
}

// readRequest decodes the request from the named file or stdin.
func readRequest(args []string) (*types.CompileRequest, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read request: %w", err)
	}
	return api.ParseRequest(data)
}

func runCompile(cmd *cobra.Command, args []string) error {
	req, err := readRequest(args)
	if err != nil {
		return err
	}

	service, closeDB, err := newService()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := api.WithRequestID(context.Background(), string(types.NewRequestID()))
	out, err := service.CompileRequest(ctx, req)
	if err != nil {
		return err
	}

	if !parameterized {
		fmt.Println(out.SQL)
		return nil
	}
	fmt.Println(out.Query)
	fmt.Println()
	fmt.Println(color.New(color.Bold).Sprint("Parameters"))
	fmt.Println()
	fmt.Print(formatParams(out.Params))
	return nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	req, err := readRequest(args)
	if err != nil {
		return err
	}

	service, closeDB, err := newService()
	if err != nil {
		return err
	}
	defer closeDB()

	ctx := api.WithRequestID(context.Background(), string(types.NewRequestID()))
	out, err := service.ExplainRequest(ctx, req)
	if err != nil {
		return err
	}
	fmt.Print(formatExplanation(out))
	return nil
}
