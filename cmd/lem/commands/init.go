package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const starterManifest = `# Lemniscat manifest
#
# Run with: lem run -m manifest.yaml -c variables.yaml
variables:
  - name: appName
    value: my-app

pre:
  - task: echo
    displayName: start
    steps: [run]
    parameters:
      message: Starting ${{ appName }}

capabilities:
  build:
    solutions:
      - solution: shell
        description: Build with a shell script
        tasks:
          - template: templates/build.yaml
            displayName: build
  test:
    dependsOn: [build]
    solutions:
      - solution: shell
        tasks:
          - task: shell
            displayName: unit tests
            condition: '"${{ skipTests }}" != "true"'
            steps: [run]
            parameters:
              script: echo "testing ${{ appName }} ${{ version }}"

post:
  - task: echo
    displayName: done
    steps: [run]
    parameters:
      message: ${{ appName }} ${{ version }} done
`

const starterVariables = `# Variables loaded with -c variables.yaml
build.enable: true
build.solution: shell
test.enable: true
test.solution: shell
skipTests: false
`

const starterTemplate = `# Tasks pulled in by the build solution of manifest.yaml
tasks:
  - task: shell
    displayName: compile
    steps: [run]
    parameters:
      script: |
        echo "building ${{ appName }}"
        echo "[lemniscat.pushvar] version=1.0.0"
  - task: shell
    displayName: clean
    steps: [run-clean]
    parameters:
      script: echo "cleaning ${{ appName }}"
`

// scaffoldFile is a file written by lem init.
type scaffoldFile struct {
	path    string
	content string
}

var scaffoldFiles = []scaffoldFile{
	{path: "manifest.yaml", content: starterManifest},
	{path: "variables.yaml", content: starterVariables},
	{path: filepath.Join("templates", "build.yaml"), content: starterTemplate},
}

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Create a starter pipeline",
		Long: `Create a starter manifest.yaml, a variables.yaml config file and a
templates/ directory in dir (default: the current directory).

Existing files are kept unless --force is given.`,
		Example: `  # Scaffold in the current directory
  lem init

  # Scaffold a new project directory
  lem init ./pipeline`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := "."
			if len(args) > 0 {
				dir = args[0]
			}

			log.Info().
				Str("dir", dir).
				Bool("force", force).
				Msg("Initializing pipeline")

			return scaffold(cmd.OutOrStdout(), dir, force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing files")

	return cmd
}

// scaffold writes the starter files under dir.
func scaffold(out io.Writer, dir string, force bool) error {
	for _, f := range scaffoldFiles {
		path := filepath.Join(dir, f.path)

		if _, err := os.Stat(path); err == nil && !force {
			fmt.Fprintf(out, "%s Kept existing file: %s\n", render(skippedStyle, "-"), path)
			continue
		}

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(f.content), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		fmt.Fprintf(out, "%s Created file: %s\n", render(finishedStyle, "✓"), path)
	}

	fmt.Fprintf(out, "\nNext steps:\n")
	fmt.Fprintf(out, "  lem validate -m %s -c %s\n", filepath.Join(dir, "manifest.yaml"), filepath.Join(dir, "variables.yaml"))
	fmt.Fprintf(out, "  lem run -m %s -c %s\n", filepath.Join(dir, "manifest.yaml"), filepath.Join(dir, "variables.yaml"))
	return nil
}
