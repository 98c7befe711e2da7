package project

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultServePort is the port the artifact server listens on when a project
// does not configure one.
const DefaultServePort = 8234

// DefaultOptimizationLevel is the optipng level used when none is configured.
const DefaultOptimizationLevel = 2

// PackagingJS marks a module whose final artifact can be consumed by a
// reactor target.
const PackagingJS = "js"

// Layout holds the project-relative directories a chain reads from and
// writes to.
type Layout struct {
	Scripts     string `yaml:"scripts"`
	Styles      string `yaml:"styles"`
	Assets      string `yaml:"assets"`
	TestScripts string `yaml:"test_scripts"`
	Output      string `yaml:"output"`
	TestOutput  string `yaml:"test_output"`
	Libs        string `yaml:"libs"`
}

// DefaultLayout returns the directory layout used when a module does not
// override it.
func DefaultLayout() Layout {
	return Layout{
		Scripts:     "src/js",
		Styles:      "src/css",
		Assets:      "src/assets",
		TestScripts: "test/js",
		Output:      "out",
		TestOutput:  "out-test",
		Libs:        "lib",
	}
}

// Features are the boolean toggles that gate optional chain stages.
type Features struct {
	CompileScripts   bool `yaml:"compile_scripts"`
	CompileStyles    bool `yaml:"compile_styles"`
	CompileTemplates bool `yaml:"compile_templates"`
	ValidateScripts  bool `yaml:"validate_scripts"`
	ValidateStyles   bool `yaml:"validate_styles"`
	OptimizeAssets   bool `yaml:"optimize_assets"`
	Aggregate        bool `yaml:"aggregate"`
	RunServer        bool `yaml:"run_server"`
}

// DefaultFeatures enables every stage except validation.
func DefaultFeatures() Features {
	return Features{
		CompileScripts:   true,
		CompileStyles:    true,
		CompileTemplates: true,
		OptimizeAssets:   true,
		Aggregate:        true,
		RunServer:        true,
	}
}

// Aggregation lists, in order, the names concatenated into the final
// script and style artifacts.
type Aggregation struct {
	Scripts []string `yaml:"scripts"`
	Styles  []string `yaml:"styles"`
}

// Project is one watched module.
type Project struct {
	ID                string            `yaml:"id"`
	Root              string            `yaml:"root"`
	Packaging         string            `yaml:"packaging"`
	FinalName         string            `yaml:"final_name"`
	Layout            Layout            `yaml:"layout"`
	Features          Features          `yaml:"features"`
	ServePort         int               `yaml:"serve_port"`
	OptimizationLevel int               `yaml:"optimization_level"`
	Aggregation       Aggregation       `yaml:"aggregation"`
	Tools             map[string]string `yaml:"tools"`
	Ignore            []string          `yaml:"ignore"`
}

// DefaultIgnore lists the globs the monitor never reports. Temporary
// outputs are written as .mill-* siblings before being renamed into place.
func DefaultIgnore() []string {
	return []string{"**/.git/**", "**/node_modules/**", "**/.mill/**", "**/.mill-*"}
}

// New returns a project rooted at root with every default applied.
func New(id, root string) *Project {
	p := defaults()
	p.ID = id
	p.Root = root
	p.FinalName = id
	return &p
}

func defaults() Project {
	return Project{
		Packaging:         PackagingJS,
		Layout:            DefaultLayout(),
		Features:          DefaultFeatures(),
		ServePort:         DefaultServePort,
		OptimizationLevel: DefaultOptimizationLevel,
		Ignore:            DefaultIgnore(),
	}
}

// UnmarshalYAML decodes a module on top of the defaults so omitted fields
// keep their default value.
func (p *Project) UnmarshalYAML(n *yaml.Node) error {
	type plain Project
	v := plain(defaults())
	if err := decodeStrict(n, "module", &v); err != nil {
		return err
	}
	*p = Project(v)
	return nil
}

// UnmarshalYAML applies the default layout to unset directories.
func (l *Layout) UnmarshalYAML(n *yaml.Node) error {
	type plain Layout
	v := plain(DefaultLayout())
	if err := decodeStrict(n, "layout", &v); err != nil {
		return err
	}
	*l = Layout(v)
	return nil
}

// UnmarshalYAML keeps default toggles for keys that are not present.
func (f *Features) UnmarshalYAML(n *yaml.Node) error {
	type plain Features
	v := plain(DefaultFeatures())
	if err := decodeStrict(n, "features", &v); err != nil {
		return err
	}
	*f = Features(v)
	return nil
}

// UnmarshalYAML rejects unknown aggregation keys.
func (a *Aggregation) UnmarshalYAML(n *yaml.Node) error {
	type plain Aggregation
	var v plain
	if err := decodeStrict(n, "aggregation", &v); err != nil {
		return err
	}
	*a = Aggregation(v)
	return nil
}

// decodeStrict decodes n into v, rejecting mapping keys that name no field
// of v. Node.Decode does not inherit the outer decoder's KnownFields.
func decodeStrict(n *yaml.Node, what string, v any) error {
	m := n
	if m.Kind == yaml.AliasNode && m.Alias != nil {
		m = m.Alias
	}
	if m.Kind == yaml.MappingNode {
		known := yamlFields(reflect.TypeOf(v).Elem())
		for i := 0; i+1 < len(m.Content); i += 2 {
			k := m.Content[i]
			if _, ok := known[k.Value]; !ok && k.Value != "<<" {
				return fmt.Errorf("line %d: unknown %s field %q", k.Line, what, k.Value)
			}
		}
	}
	return n.Decode(v)
}

func yamlFields(t reflect.Type) map[string]struct{} {
	fields := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			continue
		}
		if name == "" {
			name = strings.ToLower(f.Name)
		}
		fields[name] = struct{}{}
	}
	return fields
}

// Validate checks the project for configuration errors. It does no I/O.
func (p *Project) Validate() error {
	if p.ID == "" {
		return &ConfigError{Field: "id", Message: "module id is required"}
	}
	if p.Root == "" || !filepath.IsAbs(p.Root) {
		return &ConfigError{Project: p.ID, Field: "root", Message: fmt.Sprintf("root must be an absolute path, got %q", p.Root)}
	}
	if p.FinalName == "" {
		return &ConfigError{Project: p.ID, Field: "final_name", Message: "final name is required"}
	}
	if p.ServePort < 1 || p.ServePort > 65535 {
		return &ConfigError{Project: p.ID, Field: "serve_port", Message: fmt.Sprintf("port %d out of range", p.ServePort)}
	}
	if p.OptimizationLevel < 0 || p.OptimizationLevel > 7 {
		return &ConfigError{Project: p.ID, Field: "optimization_level", Message: fmt.Sprintf("level %d out of range 0-7", p.OptimizationLevel)}
	}

	dirs := map[string]string{
		"layout.scripts":      p.Layout.Scripts,
		"layout.styles":       p.Layout.Styles,
		"layout.assets":       p.Layout.Assets,
		"layout.test_scripts": p.Layout.TestScripts,
		"layout.output":       p.Layout.Output,
		"layout.test_output":  p.Layout.TestOutput,
		"layout.libs":         p.Layout.Libs,
	}
	for field, dir := range dirs {
		if dir == "" || filepath.IsAbs(dir) || strings.HasPrefix(filepath.Clean(dir), "..") {
			return &ConfigError{Project: p.ID, Field: field, Message: fmt.Sprintf("must be a relative path inside the project, got %q", dir)}
		}
	}
	return nil
}

// Path resolves a project-relative path.
func (p *Project) Path(rel string) string {
	return filepath.Join(p.Root, rel)
}

func (p *Project) ScriptsDir() string     { return p.Path(p.Layout.Scripts) }
func (p *Project) StylesDir() string      { return p.Path(p.Layout.Styles) }
func (p *Project) AssetsDir() string      { return p.Path(p.Layout.Assets) }
func (p *Project) TestScriptsDir() string { return p.Path(p.Layout.TestScripts) }
func (p *Project) OutputDir() string      { return p.Path(p.Layout.Output) }
func (p *Project) TestOutputDir() string  { return p.Path(p.Layout.TestOutput) }
func (p *Project) LibsDir() string        { return p.Path(p.Layout.Libs) }

// ScriptsOutputDir is where compiled and copied scripts land.
func (p *Project) ScriptsOutputDir() string { return filepath.Join(p.OutputDir(), "js") }

// StylesOutputDir is where compiled and copied style sheets land.
func (p *Project) StylesOutputDir() string { return filepath.Join(p.OutputDir(), "css") }

// FinalArtifact returns the aggregated artifact path for the extension
// ("js" or "css").
func (p *Project) FinalArtifact(ext string) string {
	return filepath.Join(p.OutputDir(), p.FinalName+"."+ext)
}

// Tool returns the configured command override for name, if any.
func (p *Project) Tool(name string) (string, bool) {
	cmd, ok := p.Tools[name]
	return cmd, ok && cmd != ""
}

// ServeDirs are the directories the artifact server exposes, in lookup order.
func (p *Project) ServeDirs() []string {
	return []string{p.OutputDir(), p.LibsDir(), p.TestOutputDir()}
}

func (p *Project) String() string {
	return p.ID
}
