// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Id int

const (
	CatalogNotFoundId Id = iota + 1
	CatalogParseErrorId
	InvalidManifestId
	DependencyCycleId
	UnresolvedDependencyId
	BlockedByCycleId
	SetupFailedId
	TeardownFailedId
	ConfigLoadFailedId
	FeaturesFileInvalidId
	MetricsServeFailedId
)

type MarkdownMsg string

type HttpLink string

type Issue struct {
	id       Id          // ID used to lookup the issue
	mdMsg    MarkdownMsg // Markdown text that will be rendered
	docLinks []HttpLink  // documentation pages about this issue
	extLinks []HttpLink  // external links that might be useful for the user
}

func (i *Issue) Id() Id {
	return i.id
}

func (i *Issue) MarkdownMsg() MarkdownMsg {
	return i.mdMsg
}

func (i *Issue) DocLinks() []HttpLink {
	return slices.Clone(i.docLinks)
}

func (i *Issue) ExtLinks() []HttpLink {
	return slices.Clone(i.extLinks)
}

func (i *Issue) Render(stylePath string) (string, error) {
	extraMd := ""
	if len(i.docLinks) > 0 || len(i.extLinks) > 0 {
		extraMd += "\n\n"
		extraMd += "## See also\n"
		for _, link := range i.docLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
		for _, link := range i.extLinks {
			extraMd += "- <" + string(link) + ">\n"
		}
	}
	return render(string(i.mdMsg)+extraMd, stylePath)
}

var (
	render = glamour.Render

	catalogNotFoundIssue = &Issue{
		id: CatalogNotFoundId,
		mdMsg: `
# Module catalog not found!

modkernel needs a catalog file listing the module manifests.

## Where the catalog comes from (in order of precedence):
1. The path given on the command line
2. The ` + "`catalog`" + ` field of your config file
3. The ` + "`MODKERNEL_CATALOG`" + ` environment variable

## Things you can try:
- Check the path for typos
- Use one of the supported extensions: .cue, .toml, .yaml or .yml

## Example catalog (CUE):
~~~cue
modules: [
  {id: "core", version: "1.0.0"},
  {
    id:         "sales"
    version:    "1.0.0"
    depends_on: ["core"]
    activation: {activated_by: "sales"}
  },
]
~~~`,
	}

	catalogParseErrorIssue = &Issue{
		id: CatalogParseErrorId,
		mdMsg: `
# Failed to parse the module catalog!

The catalog file could not be decoded as a whole, so no module was loaded.

## Common issues:
- Invalid syntax (missing quotes, braces or indentation)
- A field with the wrong type (for example a number where a string is expected)
- Modules not listed under the top-level ` + "`modules`" + ` key

## Things you can try:
- Read the file and path reported in the error, they point at the offending field
- Validate a CUE catalog directly:
~~~
$ cue vet modules.cue
~~~`,
		extLinks: []HttpLink{"https://cuelang.org/docs/"},
	}

	invalidManifestIssue = &Issue{
		id: InvalidManifestId,
		mdMsg: `
# A module manifest was rejected!

One manifest in the catalog is malformed or reuses an id. It was left out;
the other modules still load.

## Common issues:
- Missing ` + "`id`" + ` or ` + "`version`" + `
- Two manifests with the same ` + "`id`" + `
- Event patterns with empty segments (` + "`sales..placed`" + `) or partial
  wildcards (` + "`sales.order_*`" + `)

## Things you can try:
- Fix the entry named in the message (for example ` + "`modules[3]`" + `)
- Rename one of the duplicated modules`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle detected!

Some modules depend on each other in a loop, for example
` + "`a -> b -> a`" + `. None of them can be set up first, so all of them
stay inactive, along with every module that depends on them.

## Things you can try:
- Move the shared capability into a new foundation module both can depend on
- Replace one of the dependencies with an event subscription
- Run the report to see every cycle:
~~~
$ modkernel diagnose modules.cue
~~~`,
	}

	unresolvedDependencyIssue = &Issue{
		id: UnresolvedDependencyId,
		mdMsg: `
# Unresolved dependency!

A module lists a dependency id that no manifest in the catalog declares.
That module stays inactive. Unrelated modules are not affected.

## Things you can try:
- Check the id in ` + "`depends_on`" + ` for typos
- Add the missing module to the catalog
- Remove the dependency if it is no longer needed`,
	}

	blockedByCycleIssue = &Issue{
		id: BlockedByCycleId,
		mdMsg: `
# Module blocked by a dependency cycle!

The module is not part of a cycle itself, but it depends (directly or
through other modules) on a module that is. It stays inactive until the
cycle is broken.

## Things you can try:
- Fix the cycle reported next to this message
- Drop the dependency on the cyclic module`,
	}

	setupFailedIssue = &Issue{
		id: SetupFailedId,
		mdMsg: `
# Module setup failed!

The module's setup returned an error or panicked. Everything it had
registered was rolled back and the other modules kept activating.

## What happens next:
- The module stays failed until its eligibility or the state of one of its
  dependencies changes, then it is retried

## Things you can try:
- Run with ` + "`--verbose`" + ` to see the full error chain
- Check the dependencies the module reads exports from`,
	}

	teardownFailedIssue = &Issue{
		id: TeardownFailedId,
		mdMsg: `
# Module teardown failed!

The module's teardown returned an error. Its hook actions and event
subscriptions were removed anyway, and the pass continued.

## Things you can try:
- Look for resources the module opens outside the kernel (files, connections)
- Make teardown idempotent`,
	}

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Failed to load configuration!

Your modkernel configuration file has errors.

## Config file location:
- Linux: ~/.config/modkernel/config.cue
- macOS: ~/Library/Application Support/modkernel/config.cue
- Windows: %APPDATA%\modkernel\config.cue

## Things you can try:
- Check the file for CUE syntax errors
- Print the effective configuration:
~~~
$ modkernel config show
~~~

## Example config:
~~~cue
catalog: "./modules.cue"
features: ["sales", "staff"]
log: level: "info"
kernel: strict_declarations: false
watch: debounce: "500ms"
~~~`,
	}

	featuresFileInvalidIssue = &Issue{
		id: FeaturesFileInvalidId,
		mdMsg: `
# Invalid features file!

The watched features file could not be read. The previous feature set stays
in effect until the file is fixed.

## Expected shape (CUE):
~~~cue
features: ["sales", "staff", "loyalty"]
~~~`,
	}

	metricsServeFailedIssue = &Issue{
		id: MetricsServeFailedId,
		mdMsg: `
# Failed to serve metrics!

The Prometheus endpoint could not be started.

## Things you can try:
- Check that the address in ` + "`--metrics-addr`" + ` is free
- Use ` + "`:0`" + ` to let the system pick a port`,
		extLinks: []HttpLink{"https://prometheus.io/docs/instrumenting/exposition_formats/"},
	}

	issues = map[Id]*Issue{
		catalogNotFoundIssue.Id():      catalogNotFoundIssue,
		catalogParseErrorIssue.Id():    catalogParseErrorIssue,
		invalidManifestIssue.Id():      invalidManifestIssue,
		dependencyCycleIssue.Id():      dependencyCycleIssue,
		unresolvedDependencyIssue.Id(): unresolvedDependencyIssue,
		blockedByCycleIssue.Id():       blockedByCycleIssue,
		setupFailedIssue.Id():          setupFailedIssue,
		teardownFailedIssue.Id():       teardownFailedIssue,
		configLoadFailedIssue.Id():     configLoadFailedIssue,
		featuresFileInvalidIssue.Id():  featuresFileInvalidIssue,
		metricsServeFailedIssue.Id():   metricsServeFailedIssue,
	}

	// diagnosticIssues maps kernel diagnostic codes to their guide.
	diagnosticIssues = map[string]Id{
		"dependency_cycle":      DependencyCycleId,
		"unresolved_dependency": UnresolvedDependencyId,
		"blocked_by_cycle":      BlockedByCycleId,
		"setup_failed":          SetupFailedId,
		"teardown_failed":       TeardownFailedId,
	}
)

func Values() []*Issue {
	values := maps.Values(issues)
	slices.SortFunc(values, func(a, b *Issue) int { return int(a.id) - int(b.id) })
	return values
}

func Get(id Id) *Issue {
	return issues[id]
}

// ForDiagnostic returns the guide for a kernel diagnostic code, or nil.
func ForDiagnostic(code string) *Issue {
	id, ok := diagnosticIssues[code]
	if !ok {
		return nil
	}
	return issues[id]
}
