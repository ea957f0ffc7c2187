// Package hazard scans SQL code segments against a fixed catalog of
// transaction-incompatible operations and resolves the transaction policy
// for a migration section.
package hazard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/db-journey/nomad/sqlseg"
)

// Type identifies a specific transaction-incompatible operation.
type Type string

// The fixed hazard catalog. Order here has no semantic meaning; hazards
// are always reported in document order regardless of catalog order.
const (
	CreateIndexConcurrently        Type = "CREATE_INDEX_CONCURRENTLY"
	DropIndexConcurrently          Type = "DROP_INDEX_CONCURRENTLY"
	Reindex                        Type = "REINDEX"
	Vacuum                         Type = "VACUUM"
	Cluster                        Type = "CLUSTER"
	RefreshMaterializedViewConcurrently Type = "REFRESH_MATERIALIZED_VIEW_CONCURRENTLY"
	AlterType                      Type = "ALTER_TYPE"
	AlterSystem                    Type = "ALTER_SYSTEM"
	CreateDatabase                 Type = "CREATE_DATABASE"
	DropDatabase                   Type = "DROP_DATABASE"
	CreateTablespace               Type = "CREATE_TABLESPACE"
	DropTablespace                 Type = "DROP_TABLESPACE"
	AlterTablespace                Type = "ALTER_TABLESPACE"
	LockTables                     Type = "LOCK_TABLES"
	LoadDataInfile                 Type = "LOAD_DATA_INFILE"
	AlterTableAlgorithmOrLock      Type = "ALTER_TABLE_ALGORITHM_OR_LOCK"
	OptimizeAnalyzeRepairTable     Type = "OPTIMIZE_ANALYZE_REPAIR_TABLE"
)

type catalogEntry struct {
	typ     Type
	pattern *regexp.Regexp
}

var catalog = []catalogEntry{
	{CreateIndexConcurrently, regexp.MustCompile(`(?i)CREATE\s+(?:UNIQUE\s+)?INDEX\s+CONCURRENTLY`)},
	{DropIndexConcurrently, regexp.MustCompile(`(?i)DROP\s+INDEX\s+CONCURRENTLY`)},
	{Reindex, regexp.MustCompile(`(?i)\bREINDEX\b`)},
	{Vacuum, regexp.MustCompile(`(?i)\bVACUUM\b`)},
	{Cluster, regexp.MustCompile(`(?i)\bCLUSTER\b`)},
	{RefreshMaterializedViewConcurrently, regexp.MustCompile(`(?i)REFRESH\s+MATERIALIZED\s+VIEW\s+CONCURRENTLY`)},
	{AlterType, regexp.MustCompile(`(?i)ALTER\s+TYPE\b`)},
	{AlterSystem, regexp.MustCompile(`(?i)ALTER\s+SYSTEM\b`)},
	{CreateDatabase, regexp.MustCompile(`(?i)CREATE\s+DATABASE\b`)},
	{DropDatabase, regexp.MustCompile(`(?i)DROP\s+DATABASE\b`)},
	{CreateTablespace, regexp.MustCompile(`(?i)CREATE\s+TABLESPACE\b`)},
	{DropTablespace, regexp.MustCompile(`(?i)DROP\s+TABLESPACE\b`)},
	{AlterTablespace, regexp.MustCompile(`(?i)ALTER\s+TABLESPACE\b`)},
	{LockTables, regexp.MustCompile(`(?i)LOCK\s+TABLES\b`)},
	{LoadDataInfile, regexp.MustCompile(`(?i)LOAD\s+DATA\s+(?:LOCAL\s+)?INFILE\b`)},
	{AlterTableAlgorithmOrLock, regexp.MustCompile(`(?is)ALTER\s+TABLE\s.*?(?:ALGORITHM\s*=|LOCK\s*=)`)},
	{OptimizeAnalyzeRepairTable, regexp.MustCompile(`(?i)\b(?:OPTIMIZE|ANALYZE|REPAIR)\s+TABLE\b`)},
}

// Hazard is one detected transaction-incompatible operation, located in
// the original source (never inside a comment/string/dollar-quoted body).
type Hazard struct {
	Type      Type
	Line      int
	Column    int
	Statement string
}

type match struct {
	offset int
	typ    Type
	end    int // offset of match end, used to locate the excerpt
}

// Detect scans sql and returns every hazard found in its code segments, in
// document order.
func Detect(sql string) []Hazard {
	var hazards []Hazard
	for _, seg := range sqlseg.Segments(sql) {
		if !seg.IsCode {
			continue
		}
		hazards = append(hazards, detectInSegment(seg)...)
	}
	return hazards
}

func detectInSegment(seg sqlseg.Segment) []Hazard {
	var matches []match
	for _, entry := range catalog {
		for _, loc := range entry.pattern.FindAllStringIndex(seg.Content, -1) {
			matches = append(matches, match{offset: loc[0], typ: entry.typ, end: loc[1]})
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].offset < matches[j].offset })

	hazards := make([]Hazard, 0, len(matches))
	for _, m := range matches {
		line, col := sqlseg.Project(seg, m.offset)
		hazards = append(hazards, Hazard{
			Type:      m.typ,
			Line:      line,
			Column:    col,
			Statement: excerpt(seg.Content, m.offset),
		})
	}
	return hazards
}

// excerpt returns the raw text from offset up to and including the next
// ";", or up to (but not including) the next newline if that comes
// first, trimmed of surrounding whitespace.
func excerpt(content string, offset int) string {
	end := len(content)
	for i := offset; i < len(content); i++ {
		if content[i] == ';' {
			end = i + 1
			break
		}
		if content[i] == '\n' {
			end = i
			break
		}
	}
	return strings.TrimSpace(content[offset:end])
}

// Policy configures how hazards are resolved into a transaction decision.
type Policy struct {
	// AutoNotx disables the transaction and warns instead of failing when
	// hazards are present and the section did not request notx itself.
	AutoNotx bool
}

// Resolution is the outcome of validating a set of hazards against a
// section's notx flag and the active policy.
type Resolution struct {
	SkipTransaction bool
	Reason          string
	Warning         string
}

// StrictHazardError reports that hazardous operations were found while the
// policy requires an explicit notx directive.
type StrictHazardError struct {
	Hazards []Hazard
}

func (e *StrictHazardError) Error() string {
	var b strings.Builder
	b.WriteString("hazardous operations require -- +nomad notx or --auto-notx: ")
	for i, h := range e.Hazards {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s at %d:%d", h.Type, h.Line, h.Column)
	}
	return b.String()
}

// Validate resolves transaction policy for a section given its detected
// hazards, whether it carries an explicit notx directive, and the active
// Policy. It returns a *StrictHazardError when hazards are present, notx
// was not requested, and the policy does not auto-disable transactions.
func Validate(hazards []Hazard, hasNotx bool, policy Policy) (Resolution, error) {
	if len(hazards) == 0 {
		return Resolution{SkipTransaction: hasNotx}, nil
	}
	if hasNotx {
		return Resolution{SkipTransaction: true, Reason: "notx directive"}, nil
	}
	if policy.AutoNotx {
		return Resolution{
			SkipTransaction: true,
			Reason:          "auto-notx (hazards detected)",
			Warning:         "hazardous operations detected; running outside a transaction",
		}, nil
	}
	return Resolution{}, &StrictHazardError{Hazards: hazards}
}
