// inferkit_artifacts inspects saved compiled-model artifact directories.
//
// Usage:
//
//	inferkit_artifacts [--summary] [--inputs] [--outputs] [--extra] <artifact_dir>
//
// With no report flags, it prints the summary.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	"github.com/gomlx/inferkit/artifacts"
	_ "github.com/gomlx/inferkit/runtimes/govm"
)

var (
	flagSummary = flag.Bool("summary", false, "Display a summary of the artifact: model id, runtime, target, "+
		"batch size and engine size.")
	flagInputs  = flag.Bool("inputs", false, "Lists the ordered input names of the compiled module.")
	flagOutputs = flag.Bool("outputs", false, "Lists the output shapes of the compiled module.")
	flagExtra   = flag.Bool("extra", false, "Lists the extra metadata key/values stored with the artifact.")
)

func main() {
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		klog.Errorf("Missing artifact directory to read from. See 'inferkit_artifacts -help'.")
		os.Exit(1)
	}
	if len(args) > 1 {
		klog.Errorf("Too many arguments. See 'inferkit_artifacts -help'.")
		os.Exit(1)
	}
	if !*flagSummary && !*flagInputs && !*flagOutputs && !*flagExtra {
		*flagSummary = true
	}
	report(args[0])
}

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == 1 {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = oddRowStyle
			default:
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

func report(artifactPath string) {
	meta := must.M1(artifacts.LoadMetadata(artifactPath))

	if *flagSummary {
		fmt.Println(titleStyle.Render("Summary"))
		table := newPlainTable(false)
		table.Row("artifact", artifactPath)
		table.Row("model_id", meta.ModelID)
		table.Row("runtime", meta.Runtime)
		table.Row("target", meta.Target)
		table.Row("batch_size", humanize.Comma(int64(meta.NetworkParameters.BatchSize)))
		table.Row("dtype", meta.NetworkParameters.DType)
		table.Row("# inputs", humanize.Comma(int64(len(meta.InputNames))))
		table.Row("# outputs", humanize.Comma(int64(len(meta.NetworkParameters.OutputSizes))))
		enginePath := filepath.Join(artifactPath, artifacts.EngineFileName)
		engineInfo := must.M1(os.Stat(enginePath))
		table.Row("engine", humanize.Bytes(uint64(engineInfo.Size())))
		fmt.Println(table.Render())
	}

	if *flagInputs {
		fmt.Println(titleStyle.Render("Inputs"))
		table := newPlainTable(true)
		table.Row("#", "Name")
		for ii, name := range meta.InputNames {
			table.Row(fmt.Sprintf("%d", ii), name)
		}
		fmt.Println(table.Render())
	}

	if *flagOutputs {
		fmt.Println(titleStyle.Render("Outputs"))
		table := newPlainTable(true)
		table.Row("#", "Shape (without batch axis)")
		for ii, size := range meta.NetworkParameters.OutputSizes {
			table.Row(fmt.Sprintf("%d", ii), fmt.Sprintf("%v", size))
		}
		fmt.Println(table.Render())
	}

	if *flagExtra {
		fmt.Println(titleStyle.Render("Extra metadata"))
		table := newPlainTable(true)
		table.Row("Key", "Type", "Value")
		for key, value := range meta.Extra {
			table.Row(key, fmt.Sprintf("%T", value), fmt.Sprintf("%v", value))
		}
		fmt.Println(table.Render())
	}
}
