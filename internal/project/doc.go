// Package project describes the modules mill builds and watches.
//
// A Project is one watched module: a root directory, a source/output layout,
// a set of feature toggles and the name lists used for aggregation. Projects
// are created once at startup from a Workspace file and are immutable for the
// lifetime of a watch session.
//
// # Workspace files
//
// A workspace lists the modules of a multi-module build in reactor order.
// Either YAML (mill.yaml) or CUE (mill.cue) is accepted:
//
//	watched_project: app
//	modules:
//	  - id: widgets
//	    root: ./widgets
//	    packaging: js
//	    aggregation:
//	      scripts: [widgets, helpers]
//	  - id: app
//	    root: ./app
//	    features:
//	      validate_scripts: true
//	    tools:
//	      scripts: coffee -bcp "$MILL_INPUT" > "$MILL_OUTPUT"
//
// CUE files are evaluated, checked to be concrete and then decoded with the
// same defaults as YAML, so a field missing from either format takes the
// default value (see DefaultFeatures).
package project
