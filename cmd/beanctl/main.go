// Command beanctl deploys a WebAssembly module as a stateless component and
// invokes its exports through the container.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wippyai/bean-runtime/stats"
	"github.com/wippyai/bean-runtime/wasmbean"
)

var (
	wasmFile string
	cfgFile  string
	verbose  bool

	method      string
	callArgs    []string
	txAttr      string
	interactive bool
)

var rootCmd = &cobra.Command{
	Use:   "beanctl",
	Short: "Run WebAssembly modules as container components",
	Long: `beanctl deploys a WebAssembly module as a stateless component. Every
exported function becomes a business method invoked through the container:
pooled instances, transaction attributes, interceptors and statistics.`,
	SilenceUsage: true,
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "List exported functions with their WIT signatures",
	RunE:  runInspect,
}

var invokeCmd = &cobra.Command{
	Use:   "invoke",
	Short: "Invoke an exported function through the container",
	Long: `Invoke deploys the module and calls one export through a component proxy.

Examples:
  beanctl invoke --wasm add.wasm --method add --arg 1 --arg 2
  beanctl invoke --wasm add.wasm --method add --arg 1 --arg 2 --tx RequiresNew
  beanctl invoke --wasm add.wasm -i`,
	RunE: runInvoke,
}

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive console for the deployed component",
	RunE: func(*cobra.Command, []string) error {
		return runConsole()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&wasmFile, "wasm", "", "path to the wasm module")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "container configuration (.toml, .yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	_ = rootCmd.MarkPersistentFlagRequired("wasm")

	invokeCmd.Flags().StringVar(&method, "method", "", "export to call")
	invokeCmd.Flags().StringArrayVar(&callArgs, "arg", nil, "argument, repeatable")
	invokeCmd.Flags().StringVar(&txAttr, "tx", "", "transaction attribute (Required, RequiresNew, Supports, ...)")
	invokeCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "start the interactive console")
	consoleCmd.Flags().StringVar(&txAttr, "tx", "", "transaction attribute")

	rootCmd.AddCommand(inspectCmd, invokeCmd, consoleCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInspect(*cobra.Command, []string) error {
	ctx := context.Background()

	data, err := os.ReadFile(wasmFile)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	mod, err := wasmbean.Compile(ctx, data)
	if err != nil {
		return err
	}
	defer mod.Close(ctx)

	exports := mod.Exports()
	fmt.Printf("Module: %s\n", wasmFile)
	fmt.Printf("Component: %s\n", componentName(wasmFile))
	fmt.Printf("\nExported functions (%d):\n", len(exports))
	for _, e := range exports {
		fmt.Printf("  %s: %s\n", e.Name, e.Signature)
	}
	return nil
}

func runInvoke(*cobra.Command, []string) error {
	if interactive {
		return runConsole()
	}
	if method == "" {
		return fmt.Errorf("--method is required without -i")
	}

	ctx := context.Background()
	s, err := openSession(ctx, sessionOptions{wasm: wasmFile, config: cfgFile, tx: txAttr, verbose: verbose})
	if err != nil {
		return err
	}
	defer s.close(ctx)

	result, err := s.invoke(ctx, method, callArgs)
	if err != nil {
		return err
	}
	fmt.Printf("%s(%s) = %v\n", method, strings.Join(callArgs, ", "), result)

	st := s.poolStats()
	fmt.Printf("pool: created=%d destroyed=%d idle=%d checked-out=%d\n",
		st.Created, st.Destroyed, st.Idle, st.CheckedOut)
	if mem, ok := s.assembly.Stats.(*stats.MemoryStore); ok {
		for _, c := range mem.Snapshot() {
			fmt.Printf("stats: %s.%s calls=%d failures=%d mean=%s\n",
				c.Component, c.Method, c.Calls, c.Failures, c.Mean())
		}
	}
	return nil
}

func runConsole() error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return fmt.Errorf("console needs a terminal; use invoke --method instead")
	}
	return runInteractive(sessionOptions{wasm: wasmFile, config: cfgFile, tx: txAttr})
}
