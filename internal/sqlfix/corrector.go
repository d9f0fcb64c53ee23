// Package sqlfix patches hardcoded percentage denominators in generated SQL.
//
// The LLM that writes dashboard queries has seen snapshot counts (class days,
// active builders, total tasks) and tends to bake them into percentages as
// literals, e.g. "COUNT(*) * 100.0 / 75". Those numbers go stale as the
// cohort progresses. The corrector swaps them for subqueries that count the
// current rows.
//
// Detection is textual. It does not parse SQL: clause boundaries are guessed
// with keyword positions, so nested or multi-statement SQL can fool it.
package sqlfix

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// DefaultCohort is the cohort the built-in subqueries filter on.
const DefaultCohort = "September 2025"

// Rule maps one set of literal denominators to a replacement subquery.
type Rule struct {
	Category string
	Label    string
	Literals []int
	Subquery string
}

// Match is one replaceable occurrence found during a pass.
type Match struct {
	Value       int
	Position    int
	Text        string
	Replacement string
	Description string
}

// Result is the outcome of a correction pass.
type Result struct {
	SQL       string   `json:"sql"`
	HadIssues bool     `json:"hadIssues"`
	Fixes     []string `json:"fixes"`
}

const (
	CategoryClassDays      = "class_days"
	CategoryActiveBuilders = "active_builders"
	CategoryTotalTasks     = "total_tasks"
)

const (
	classDaySubquery = "(SELECT COUNT(DISTINCT cd.day_date) FROM curriculum_days cd " +
		"WHERE cd.cohort = 'September 2025' AND cd.day_date <= CURRENT_DATE)"
	activeBuilderSubquery = "(SELECT COUNT(*) FROM users u " +
		"WHERE u.role = 'builder' AND u.active = true AND u.cohort = 'September 2025')"
	totalTaskSubquery = "(SELECT COUNT(*) FROM tasks t JOIN curriculum_days cd ON cd.day_id = t.day_id " +
		"WHERE cd.cohort = 'September 2025')"
)

// DefaultRules returns the historical literal sets for the September 2025
// cohort with their replacement subqueries.
func DefaultRules() []Rule {
	return []Rule{
		{Category: CategoryClassDays, Label: "class day count", Literals: []int{24, 17, 18}, Subquery: classDaySubquery},
		{Category: CategoryActiveBuilders, Label: "active builder count", Literals: []int{79, 75}, Subquery: activeBuilderSubquery},
		{Category: CategoryTotalTasks, Label: "total task count", Literals: []int{143, 107}, Subquery: totalTaskSubquery},
	}
}

// RulesWithLiterals returns DefaultRules with the literal sets overridden
// where a non-empty override is given.
func RulesWithLiterals(classDays, activeBuilders, totalTasks []int) []Rule {
	rules := DefaultRules()
	overrides := map[string][]int{
		CategoryClassDays:      classDays,
		CategoryActiveBuilders: activeBuilders,
		CategoryTotalTasks:     totalTasks,
	}
	for i := range rules {
		if lits := overrides[rules[i].Category]; len(lits) > 0 {
			rules[i].Literals = append([]int(nil), lits...)
		}
	}
	return rules
}

var (
	divisorPattern    = regexp.MustCompile(`/\s*(\d+)\b`)
	terminatorPattern = regexp.MustCompile(`^\s*(?:\)|\*|,|;?\s*$)`)
	aliasPattern      = regexp.MustCompile(`^\s+([A-Za-z_][A-Za-z0-9_]*)`)

	wherePattern   = regexp.MustCompile(`(?i)\bWHERE\b`)
	fromPattern    = regexp.MustCompile(`(?i)\bFROM\b`)
	selectPattern  = regexp.MustCompile(`(?i)\bSELECT\b`)
	closerPattern  = regexp.MustCompile(`(?i)\b(?:GROUP\s+BY|ORDER\s+BY|LIMIT)\b`)
	shortLimitTail = regexp.MustCompile(`(?i)\bLIMIT[\s\d/]*$`)
)

// clause keywords that can follow a divisor without being an alias
var nonAliasKeywords = map[string]bool{
	"FROM": true, "WHERE": true, "GROUP": true, "ORDER": true, "LIMIT": true,
	"OFFSET": true, "HAVING": true, "UNION": true, "EXCEPT": true, "INTERSECT": true,
	"AND": true, "OR": true, "NOT": true, "IS": true, "IN": true, "BETWEEN": true,
	"LIKE": true, "ILIKE": true, "WHEN": true, "THEN": true, "ELSE": true, "END": true,
	"JOIN": true, "LEFT": true, "RIGHT": true, "INNER": true, "OUTER": true, "FULL": true,
	"CROSS": true, "ON": true, "ASC": true, "DESC": true, "OVER": true, "FILTER": true,
}

// Corrector rewrites hardcoded denominators. It holds no mutable state and
// is safe for concurrent use.
type Corrector struct {
	rules  []Rule
	lookup map[int]*Rule
}

// NewCorrector builds a corrector over rules, or DefaultRules when none are
// given. A literal claimed by two rules belongs to the first.
func NewCorrector(rules ...Rule) *Corrector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	c := &Corrector{rules: rules, lookup: make(map[int]*Rule)}
	for i := range c.rules {
		for _, lit := range c.rules[i].Literals {
			if _, taken := c.lookup[lit]; !taken {
				c.lookup[lit] = &c.rules[i]
			}
		}
	}
	return c
}

// Rules returns the rules in evaluation order.
func (c *Corrector) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// ValidateAndFixSQL corrects sql for the default cohort.
func (c *Corrector) ValidateAndFixSQL(sql string) Result {
	return c.Fix(sql, DefaultCohort)
}

// Fix corrects sql. The cohort argument is accepted for callers that know
// which cohort a query targets but the substituted subqueries always filter
// on DefaultCohort.
// TODO: thread cohort into Rule.Subquery once per-cohort counts are confirmed.
func (c *Corrector) Fix(sql string, cohort string) Result {
	matches := c.FindMatches(sql)
	if len(matches) == 0 {
		return Result{SQL: sql, HadIssues: false, Fixes: []string{}}
	}

	// Apply from the end so earlier offsets stay valid.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Position > matches[j].Position
	})

	fixed := sql
	fixes := make([]string, 0, len(matches))
	for _, m := range matches {
		fixed = fixed[:m.Position] + m.Replacement + fixed[m.Position+len(m.Text):]
		fixes = append(fixes, m.Description)
	}

	return Result{SQL: fixed, HadIssues: true, Fixes: fixes}
}

// FindMatches returns every replaceable denominator in source order.
func (c *Corrector) FindMatches(sql string) []Match {
	var matches []Match
	for _, loc := range divisorPattern.FindAllStringSubmatchIndex(sql, -1) {
		litStart, litEnd := loc[2], loc[3]
		text := sql[litStart:litEnd]

		value, err := strconv.Atoi(text)
		if err != nil {
			continue
		}
		rule, ok := c.lookup[value]
		if !ok {
			continue
		}
		if !followedByTerminator(sql[litEnd:]) {
			continue
		}
		prefix := sql[:litStart]
		if inWhereClause(prefix) || inShortLimit(prefix) {
			continue
		}

		matches = append(matches, Match{
			Value:       value,
			Position:    litStart,
			Text:        text,
			Replacement: rule.Subquery,
			Description: fmt.Sprintf("Replaced hardcoded %s (%d) with dynamic subquery", rule.Label, value),
		})
	}
	return matches
}

func followedByTerminator(rest string) bool {
	if terminatorPattern.MatchString(rest) {
		return true
	}
	m := aliasPattern.FindStringSubmatch(rest)
	if m == nil {
		return false
	}
	word := strings.ToUpper(m[1])
	return word == "AS" || !nonAliasKeywords[word]
}

// inWhereClause guesses whether the end of prefix sits inside a WHERE
// clause: the last WHERE comes after the last FROM and SELECT, and no
// GROUP BY, ORDER BY or LIMIT has closed it.
func inWhereClause(prefix string) bool {
	where := lastIndex(wherePattern, prefix)
	if where < 0 {
		return false
	}
	if where < lastIndex(fromPattern, prefix) || where < lastIndex(selectPattern, prefix) {
		return false
	}
	return !closerPattern.MatchString(prefix[where:])
}

func inShortLimit(prefix string) bool {
	return shortLimitTail.MatchString(prefix)
}

func lastIndex(re *regexp.Regexp, s string) int {
	locs := re.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return -1
	}
	return locs[len(locs)-1][0]
}
