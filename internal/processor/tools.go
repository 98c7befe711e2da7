package processor

import (
	"github.com/roach88/mill/internal/project"
	"github.com/roach88/mill/internal/tool"
)

// Tool names, used as keys of a project's tools overrides.
const (
	ToolScripts         = "scripts"
	ToolStyles          = "styles"
	ToolTemplates       = "templates"
	ToolValidateScripts = "validate_scripts"
	ToolValidateStyles  = "validate_styles"
	ToolOptimizePNG     = "optimize_png"
	ToolOptimizeJPEG    = "optimize_jpeg"
	ToolCompressHTML    = "compress_html"
)

// DefaultTools are the commands used when a project does not override them.
var DefaultTools = map[string]string{
	ToolScripts:         `coffee --compile --print "$MILL_INPUT" > "$MILL_OUTPUT"`,
	ToolStyles:          `lessc "$MILL_INPUT" "$MILL_OUTPUT"`,
	ToolTemplates:       `dustc --name="$MILL_NAME" "$MILL_INPUT" "$MILL_OUTPUT"`,
	ToolValidateScripts: `jshint "$MILL_INPUT"`,
	ToolValidateStyles:  `csslint --quiet "$MILL_INPUT"`,
	ToolOptimizePNG:     `optipng -quiet -o"$MILL_LEVEL" "$MILL_OUTPUT"`,
	ToolOptimizeJPEG:    `jpegtran -copy none -optimize -outfile "$MILL_OUTPUT" "$MILL_OUTPUT"`,
	ToolCompressHTML:    `html-minifier --collapse-whitespace --remove-comments -o "$MILL_OUTPUT" "$MILL_OUTPUT"`,
}

// command resolves and parses the command for name.
func command(p *project.Project, name string) (*tool.Command, error) {
	src, ok := p.Tool(name)
	if !ok {
		src = DefaultTools[name]
	}
	cmd, err := tool.Parse(name, src)
	if err != nil {
		return nil, &project.ConfigError{Project: p.ID, Field: "tools." + name, Message: err.Error()}
	}
	return cmd, nil
}
