package memory

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ImportMode controls how an imported file meets existing data.
type ImportMode string

const (
	ImportCreateOnly     ImportMode = "create_only"
	ImportUpdateOnly     ImportMode = "update_only"
	ImportCreateOrUpdate ImportMode = "create_or_update"
	ImportReplace        ImportMode = "replace"
)

// Valid reports whether the mode is known. Empty selects create_or_update.
func (m ImportMode) Valid() bool {
	switch m {
	case "", ImportCreateOnly, ImportUpdateOnly, ImportCreateOrUpdate, ImportReplace:
		return true
	}
	return false
}

// frontMatter is the YAML header on every exported file.
type frontMatter struct {
	Type          string `yaml:"type"`
	Slug          string `yaml:"slug"`
	Version       int    `yaml:"version"`
	CreatedOn     string `yaml:"created_on"`
	LastUpdatedOn string `yaml:"last_updated_on"`
	UsageCount    *int   `yaml:"usage_count,omitempty"`
	SuccessCount  *int   `yaml:"success_count,omitempty"`
}

const codecVersion = 1

const exportFooter = "Exported by mcp-jive memory sync."

// ExportArchitecture renders an architecture item as markdown with YAML front
// matter.
func ExportArchitecture(item *ArchitectureItem) ([]byte, error) {
	fm, err := yaml.Marshal(frontMatter{
		Type:          string(NamespaceArchitecture),
		Slug:          item.UniqueSlug,
		Version:       codecVersion,
		CreatedOn:     item.CreatedOn.UTC().Format(time.RFC3339),
		LastUpdatedOn: item.LastUpdatedOn.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "---\n%s---\n\n# %s\n", fm, item.Title)
	writeBulletSection(&b, "When to Use", item.AIWhenToUse)
	writeSlugSection(&b, "Keywords", item.Keywords)
	if item.AIRequirements != "" {
		fmt.Fprintf(&b, "\n## Requirements\n\n%s\n", strings.TrimSpace(item.AIRequirements))
	}
	if len(item.ChildrenSlugs) > 0 || len(item.RelatedSlugs) > 0 {
		b.WriteString("\n## Relationships\n")
		writeSlugSubsection(&b, "Children", item.ChildrenSlugs)
		writeSlugSubsection(&b, "Related", item.RelatedSlugs)
	}
	writeSlugSection(&b, "Epic Links", item.LinkedEpicIDs)
	writeSlugSection(&b, "Tags", item.Tags)
	fmt.Fprintf(&b, "\n---\n%s\n", exportFooter)
	return []byte(b.String()), nil
}

// ExportTroubleshoot renders a troubleshoot item as markdown with YAML front
// matter, including its usage counters.
func ExportTroubleshoot(item *TroubleshootItem) ([]byte, error) {
	usage, success := item.UsageCount, item.SuccessCount
	fm, err := yaml.Marshal(frontMatter{
		Type:          string(NamespaceTroubleshoot),
		Slug:          item.UniqueSlug,
		Version:       codecVersion,
		CreatedOn:     item.CreatedOn.UTC().Format(time.RFC3339),
		LastUpdatedOn: item.LastUpdatedOn.UTC().Format(time.RFC3339),
		UsageCount:    &usage,
		SuccessCount:  &success,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal front matter: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "---\n%s---\n\n# %s\n", fm, item.Title)
	writeBulletSection(&b, "Use Cases", item.AIUseCase)
	writeSlugSection(&b, "Keywords", item.Keywords)
	if item.AISolutions != "" {
		fmt.Fprintf(&b, "\n## Solutions\n\n%s\n", strings.TrimSpace(item.AISolutions))
	}
	writeSlugSection(&b, "Tags", item.Tags)
	fmt.Fprintf(&b, "\n---\n%s\n", exportFooter)
	return []byte(b.String()), nil
}

func writeBulletSection(b *strings.Builder, header string, entries []string) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", header)
	for _, e := range entries {
		fmt.Fprintf(b, "- %s\n", e)
	}
}

func writeSlugSection(b *strings.Builder, header string, slugs []string) {
	if len(slugs) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n%s\n", header, backtickJoin(slugs))
}

func writeSlugSubsection(b *strings.Builder, header string, slugs []string) {
	if len(slugs) == 0 {
		return
	}
	fmt.Fprintf(b, "\n### %s\n\n%s\n", header, backtickJoin(slugs))
}

func backtickJoin(slugs []string) string {
	quoted := make([]string, len(slugs))
	for i, s := range slugs {
		quoted[i] = "`" + s + "`"
	}
	return strings.Join(quoted, " ")
}

var (
	frontMatterRe = regexp.MustCompile(`(?s)\A---\n(.*?)\n---\n?`)
	titleRe       = regexp.MustCompile(`(?m)^# (.+)$`)
	sectionRe     = regexp.MustCompile(`(?m)^## (.+)$`)
	subsectionRe  = regexp.MustCompile(`(?m)^### (.+)$`)
	inlineCodeRe  = regexp.MustCompile("`([^`]+)`")
	bulletRe      = regexp.MustCompile(`(?m)^- (.+)$`)
)

// ImportArchitecture parses an exported architecture file back into an item.
// The front matter's type must match the namespace.
func ImportArchitecture(data []byte) (*ArchitectureItem, error) {
	fm, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}
	if fm.Type != string(NamespaceArchitecture) {
		return nil, fmt.Errorf("file is %q, expected %q", fm.Type, NamespaceArchitecture)
	}
	slug, err := NormalizeSlug(fm.Slug)
	if err != nil {
		return nil, err
	}

	item := &ArchitectureItem{UniqueSlug: slug}
	item.Title = extractTitle(body)
	if item.Title == "" {
		return nil, fmt.Errorf("missing H1 title in %s", slug)
	}

	sections := splitSections(body)
	item.AIWhenToUse = extractBullets(sections["When to Use"])
	item.Keywords = extractInlineCode(sections["Keywords"])
	item.AIRequirements = strings.TrimSpace(stripFooter(sections["Requirements"]))
	item.LinkedEpicIDs = extractInlineCode(sections["Epic Links"])
	item.Tags = extractInlineCode(sections["Tags"])

	if rel, ok := sections["Relationships"]; ok {
		subs := splitSubsections(rel)
		item.ChildrenSlugs = extractInlineCode(subs["Children"])
		item.RelatedSlugs = extractInlineCode(subs["Related"])
	}

	if t, err := time.Parse(time.RFC3339, fm.CreatedOn); err == nil {
		item.CreatedOn = t
	}
	return item, nil
}

// ImportTroubleshoot parses an exported troubleshoot file back into an item.
func ImportTroubleshoot(data []byte) (*TroubleshootItem, error) {
	fm, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, err
	}
	if fm.Type != string(NamespaceTroubleshoot) {
		return nil, fmt.Errorf("file is %q, expected %q", fm.Type, NamespaceTroubleshoot)
	}
	slug, err := NormalizeSlug(fm.Slug)
	if err != nil {
		return nil, err
	}

	item := &TroubleshootItem{UniqueSlug: slug}
	item.Title = extractTitle(body)
	if item.Title == "" {
		return nil, fmt.Errorf("missing H1 title in %s", slug)
	}

	sections := splitSections(body)
	item.AIUseCase = extractBullets(sections["Use Cases"])
	item.Keywords = extractInlineCode(sections["Keywords"])
	item.AISolutions = strings.TrimSpace(stripFooter(sections["Solutions"]))
	item.Tags = extractInlineCode(sections["Tags"])

	if fm.UsageCount != nil {
		item.UsageCount = *fm.UsageCount
	}
	if fm.SuccessCount != nil {
		item.SuccessCount = *fm.SuccessCount
	}
	if t, err := time.Parse(time.RFC3339, fm.CreatedOn); err == nil {
		item.CreatedOn = t
	}
	return item, nil
}

func splitFrontMatter(data []byte) (*frontMatter, string, error) {
	m := frontMatterRe.FindSubmatchIndex(data)
	if m == nil {
		return nil, "", fmt.Errorf("missing YAML front matter")
	}
	var fm frontMatter
	if err := yaml.Unmarshal(data[m[2]:m[3]], &fm); err != nil {
		return nil, "", fmt.Errorf("parse front matter: %w", err)
	}
	return &fm, string(data[m[1]:]), nil
}

func extractTitle(body string) string {
	if m := titleRe.FindStringSubmatch(body); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// splitSections maps each "## Header" to the text until the next header.
func splitSections(body string) map[string]string {
	return splitByHeaders(body, sectionRe)
}

func splitSubsections(body string) map[string]string {
	return splitByHeaders(body, subsectionRe)
}

func splitByHeaders(body string, re *regexp.Regexp) map[string]string {
	out := make(map[string]string)
	locs := re.FindAllStringSubmatchIndex(body, -1)
	for i, loc := range locs {
		name := strings.TrimSpace(body[loc[2]:loc[3]])
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[name] = body[loc[1]:end]
	}
	return out
}

func extractInlineCode(section string) []string {
	var out []string
	for _, m := range inlineCodeRe.FindAllStringSubmatch(section, -1) {
		out = append(out, m[1])
	}
	return out
}

func extractBullets(section string) []string {
	var out []string
	for _, m := range bulletRe.FindAllStringSubmatch(section, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return out
}

// stripFooter removes the trailing export footer from a body section.
func stripFooter(section string) string {
	if i := strings.LastIndex(section, "\n---\n"); i >= 0 && strings.Contains(section[i:], exportFooter) {
		return section[:i]
	}
	return section
}
