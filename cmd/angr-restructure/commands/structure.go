package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harry1080/angr/internal/config"
	"github.com/harry1080/angr/internal/log"
	"github.com/harry1080/angr/pkg/ail"
	"github.com/harry1080/angr/pkg/cache"
	"github.com/harry1080/angr/pkg/region"
	"github.com/harry1080/angr/pkg/structurer"
)

// structureCmd represents the structure command
var structureCmd = &cobra.Command{
	Use:   "structure <document>",
	Short: "Structure a region document into high-level control flow",
	Long: `Reads a region document (YAML or JSON) describing a function's basic
blocks and region tree, runs structure recovery over it, and prints the
resulting control flow tree.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		jsonOutput, _ := cmd.Flags().GetBool("json")
		noCache, _ := cmd.Flags().GetBool("no-cache")
		return runStructure(args[0], configPath, jsonOutput, noCache)
	},
}

func init() {
	structureCmd.Flags().String("config", "", "Config file path")
	structureCmd.Flags().BoolP("json", "j", false, "Output the structured tree as JSON")
	structureCmd.Flags().Bool("no-cache", false, "Skip the result cache")
}

func runStructure(docPath, configPath string, jsonOutput, noCache bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := log.New(log.Config{
		Level:      log.ParseLevel(cfg.LogLevel),
		JSONOutput: cfg.JSONLogs,
	})

	format := string(cfg.Format)
	if jsonOutput {
		format = string(config.FormatJSON)
	}

	input, err := os.ReadFile(docPath)
	if err != nil {
		return fmt.Errorf("reading region document: %w", err)
	}

	useCache := cfg.CacheEnabled && !noCache
	cachePath := filepath.Join(cfg.DefaultCacheDir(), "results.msgpack")
	key := cache.Key(input, format)

	var results *cache.LRUCache
	if useCache {
		results = cache.New(cache.Options{MaxEntries: cfg.CacheMaxEntries})
		if err := cache.LoadFromFile(results, cachePath); err != nil {
			logger.Warn("dropping unreadable result cache", "path", cachePath, "error", err)
			results.Clear()
		}
		if res, found := results.Get(key); found {
			logger.Debug("result cache hit", "key", key)
			fmt.Print(res.Output)
			return nil
		}
	}

	doc, err := region.LoadDocument(bytes.NewReader(input))
	if err != nil {
		return err
	}
	reg, err := doc.Build()
	if err != nil {
		return err
	}

	logger.Info("structuring", "function", doc.Function, "blocks", len(doc.Blocks))
	start := time.Now()

	rs := structurer.NewRecursive(reg, structurer.WithRecursiveLogger(logger))
	if err := rs.Structure(); err != nil {
		return fmt.Errorf("structuring %q: %w", doc.Function, err)
	}
	logger.Debug("structuring finished", "elapsed", time.Since(start))

	output, err := renderOutput(rs.Result, format)
	if err != nil {
		return err
	}
	fmt.Print(output)

	if useCache {
		results.Set(key, cache.Result{
			Format:    format,
			Output:    output,
			CreatedAt: time.Now(),
		})
		if err := cache.PersistToFile(results, cachePath); err != nil {
			logger.Warn("persisting result cache failed", "path", cachePath, "error", err)
		}
	}
	return nil
}

func loadConfig(configPath string) (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func renderOutput(tree region.Node, format string) (string, error) {
	if format == string(config.FormatJSON) {
		data, err := json.MarshalIndent(treeJSON(tree), "", "  ")
		if err != nil {
			return "", fmt.Errorf("encoding structured tree: %w", err)
		}
		return string(data) + "\n", nil
	}
	return structurer.Render(tree), nil
}

// treeJSON maps a structured tree to plain maps for JSON output.
func treeJSON(n region.Node) interface{} {
	switch node := n.(type) {
	case nil:
		return nil

	case *structurer.SequenceNode:
		children := make([]interface{}, 0, len(node.Nodes))
		for _, child := range node.Nodes {
			children = append(children, treeJSON(child))
		}
		return map[string]interface{}{"type": "sequence", "nodes": children}

	case *structurer.CodeNode:
		return map[string]interface{}{"type": "code", "node": treeJSON(node.Node)}

	case *structurer.ConditionNode:
		out := map[string]interface{}{
			"type":      "condition",
			"condition": exprJSON(node.Cond),
			"true":      treeJSON(node.TrueNode),
		}
		if node.FalseNode != nil {
			out["false"] = treeJSON(node.FalseNode)
		}
		return out

	case *structurer.LoopNode:
		out := map[string]interface{}{
			"type": "loop",
			"kind": string(node.Kind),
			"body": treeJSON(node.Body),
		}
		if node.Cond != nil {
			out["condition"] = exprJSON(node.Cond)
		}
		return out

	case *structurer.BreakNode:
		return map[string]interface{}{
			"type":   "break",
			"target": fmt.Sprintf("%#x", node.Target),
		}

	case *structurer.ConditionalBreakNode:
		return map[string]interface{}{
			"type":      "conditional_break",
			"condition": exprJSON(node.Cond),
			"target":    fmt.Sprintf("%#x", node.Target),
		}

	case *ail.Block:
		stmts := make([]string, 0, len(node.Statements))
		for _, stmt := range node.Statements {
			stmts = append(stmts, stmt.String())
		}
		return map[string]interface{}{
			"type":       "block",
			"address":    fmt.Sprintf("%#x", node.Address),
			"statements": stmts,
		}

	case *ail.MultiNode:
		blocks := make([]interface{}, 0, len(node.Blocks))
		for _, block := range node.Blocks {
			blocks = append(blocks, treeJSON(block))
		}
		return map[string]interface{}{"type": "multi", "blocks": blocks}

	default:
		return map[string]interface{}{
			"type":    "opaque",
			"address": fmt.Sprintf("%#x", n.Addr()),
		}
	}
}

func exprJSON(e ail.Expr) string {
	if e == nil {
		return "true"
	}
	return e.String()
}
