// Package catalog loads the hardware knowledge base: validation limits,
// use case definitions, constraint relationships, and the product table.
// Embedded defaults ship with the binary; files in the project data
// directory override them.
package catalog

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sahilm/fuzzy"
)

//go:embed data/constraints.json data/use_cases.json data/products.json
var defaultData embed.FS

const (
	constraintsFile = "constraints.json"
	useCasesFile    = "use_cases.json"
	productsFile    = "products.json"
)

// IOLimits bounds the channel counts a single system can serve.
type IOLimits struct {
	MaxDigitalInputs  int `json:"max_digital_inputs"`
	MaxDigitalOutputs int `json:"max_digital_outputs"`
	MaxAnalogInputs   int `json:"max_analog_inputs"`
	MaxAnalogOutputs  int `json:"max_analog_outputs"`
	MaxTotalIO        int `json:"max_total_io"`
}

// TemperatureLimits bounds operating temperature by installation type.
type TemperatureLimits struct {
	MinCelsius int `json:"min_celsius"`
	MaxCelsius int `json:"max_celsius"`
	OutdoorMin int `json:"outdoor_min"`
	OutdoorMax int `json:"outdoor_max"`
	IndoorMin  int `json:"indoor_min"`
	IndoorMax  int `json:"indoor_max"`
}

// PowerLimits lists supported supply options.
type PowerLimits struct {
	AvailableVoltages []string `json:"available_voltages"`
	MaxPowerWatts     int      `json:"max_power_watts"`
	MinPowerWatts     int      `json:"min_power_watts"`
}

// CommunicationLimits lists supported protocols and network bounds.
type CommunicationLimits struct {
	SupportedProtocols []string `json:"supported_protocols"`
	MaxDevices         int      `json:"max_devices"`
	MaxDataRateMbps    int      `json:"max_data_rate_mbps"`
}

// Incompatibility flags a requirement combination that needs a warning.
type Incompatibility struct {
	Condition        string   `json:"condition"`
	Threshold        int      `json:"threshold,omitempty"`
	IncompatibleWith []string `json:"incompatible_with"`
	Message          string   `json:"message"`
}

// Relationships describes how constraints interact. Mutex pairs are
// symmetric; requires, implies, and limits are directed.
type Relationships struct {
	MutexPairs [][2]string         `json:"mutex_pairs"`
	Requires   map[string][]string `json:"requires"`
	Implies    map[string][]string `json:"implies"`
	Limits     map[string][]string `json:"limits"`
}

// Limits is the full validation rule set.
type Limits struct {
	IO                IOLimits            `json:"io_limits"`
	Temperature       TemperatureLimits   `json:"temperature"`
	Power             PowerLimits         `json:"power"`
	Communication     CommunicationLimits `json:"communication"`
	Incompatibilities []Incompatibility   `json:"incompatibilities"`
	Descriptions      map[string]string   `json:"descriptions"`
	Relationships     Relationships       `json:"relationships"`
}

// UseCase is one application profile with detection keywords and the
// constraints it brings in.
type UseCase struct {
	ID               string   `json:"-"`
	Name             string   `json:"name"`
	Keywords         []string `json:"keywords"`
	Prior            float64  `json:"prior"`
	StrongIndicators []string `json:"strong_indicators,omitempty"`
	WeakIndicators   []string `json:"weak_indicators,omitempty"`
	Related          []string `json:"related,omitempty"`
	Constraints      []string `json:"constraints"`
}

// ImpliedConstraint binds a constraint id to a strength score.
type ImpliedConstraint struct {
	ConstraintID  string `json:"constraint_id"`
	StrengthScore int    `json:"strength_score"`
}

// CommonRequirement is a cross-cutting requirement that expands into
// constraints.
type CommonRequirement struct {
	ImpliedConstraints []ImpliedConstraint `json:"implied_constraints"`
}

// MutexRule names two constraints that cannot both hold, with a hint for
// the user-facing resolution question.
type MutexRule struct {
	ConstraintA string `json:"constraint_a"`
	ConstraintB string `json:"constraint_b"`
	Resolution  string `json:"resolution"`
}

// ImpactPair describes the tradeoff of each side of a mutex category.
type ImpactPair struct {
	OptionA string `json:"option_a"`
	OptionB string `json:"option_b"`
}

type useCaseData struct {
	UseCases           map[string]*UseCase          `json:"use_cases"`
	CommonRequirements map[string]CommonRequirement `json:"common_sub_requirements"`
	MutexConstraints   map[string][]MutexRule       `json:"mutex_constraints"`
	Impacts            map[string]ImpactPair        `json:"impacts"`
}

// Product is one catalog entry for recommendation and search.
type Product struct {
	Model        string   `json:"model"`
	Name         string   `json:"name"`
	Kind         string   `json:"kind"`
	DigitalIn    int      `json:"digital_in,omitempty"`
	DigitalOut   int      `json:"digital_out,omitempty"`
	AnalogIn     int      `json:"analog_in,omitempty"`
	AnalogOut    int      `json:"analog_out,omitempty"`
	Protocols    []string `json:"protocols"`
	VoltageRange string   `json:"voltage_range"`
	TempMin      int      `json:"temp_min"`
	TempMax      int      `json:"temp_max"`
	Watts        int      `json:"watts"`
}

type productData struct {
	Products []Product `json:"products"`
}

// Catalog is the loaded knowledge base.
type Catalog struct {
	Limits             Limits
	UseCases           map[string]*UseCase
	CommonRequirements map[string]CommonRequirement
	MutexConstraints   map[string][]MutexRule
	Impacts            map[string]ImpactPair
	Products           []Product
}

// Load reads the catalog, preferring override files under dir when they
// exist. An empty dir loads the embedded defaults only.
func Load(dir string) (*Catalog, error) {
	cat := &Catalog{}

	if err := loadJSON(dir, constraintsFile, &cat.Limits); err != nil {
		return nil, err
	}

	var ucData useCaseData
	if err := loadJSON(dir, useCasesFile, &ucData); err != nil {
		return nil, err
	}
	cat.UseCases = ucData.UseCases
	cat.CommonRequirements = ucData.CommonRequirements
	cat.MutexConstraints = ucData.MutexConstraints
	cat.Impacts = ucData.Impacts

	var prodData productData
	if err := loadJSON(dir, productsFile, &prodData); err != nil {
		return nil, err
	}
	cat.Products = prodData.Products

	cat.applyDefaults()

	if errs := cat.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("catalog: invalid catalog data: %w", errors.Join(errs...))
	}
	return cat, nil
}

func loadJSON(dir, name string, out any) error {
	var data []byte
	var err error
	var source string

	if dir != "" {
		override := filepath.Join(dir, name)
		data, err = os.ReadFile(override)
		if err == nil {
			source = override
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("catalog: read %s: %w", override, err)
		}
	}

	if source == "" {
		data, err = defaultData.ReadFile("data/" + name)
		if err != nil {
			return fmt.Errorf("catalog: read embedded %s: %w", name, err)
		}
		source = "embedded " + name
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("catalog: parse %s: %w", source, err)
	}
	return nil
}

func (c *Catalog) applyDefaults() {
	for id, uc := range c.UseCases {
		uc.ID = id
		if uc.Prior <= 0 {
			uc.Prior = 0.05
		}
	}
	if c.CommonRequirements == nil {
		c.CommonRequirements = map[string]CommonRequirement{}
	}
	if c.MutexConstraints == nil {
		c.MutexConstraints = map[string][]MutexRule{}
	}
	if c.Impacts == nil {
		c.Impacts = map[string]ImpactPair{}
	}
	if c.Limits.Descriptions == nil {
		c.Limits.Descriptions = map[string]string{}
	}
}

// UseCaseIDs returns the use case ids in numeric order.
func (c *Catalog) UseCaseIDs() []string {
	ids := make([]string, 0, len(c.UseCases))
	for id := range c.UseCases {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return useCaseOrdinal(ids[i]) < useCaseOrdinal(ids[j])
	})
	return ids
}

func useCaseOrdinal(id string) int {
	n, err := strconv.Atoi(strings.TrimPrefix(id, "UC"))
	if err != nil {
		return int(^uint(0) >> 1)
	}
	return n
}

// UseCaseName returns the display name for a use case id, or the id when
// unknown.
func (c *Catalog) UseCaseName(id string) string {
	if uc, ok := c.UseCases[id]; ok && uc.Name != "" {
		return uc.Name
	}
	return id
}

// DescribeConstraint returns the human-readable description for a
// constraint id, or the id when none is recorded.
func (c *Catalog) DescribeConstraint(id string) string {
	if desc, ok := c.Limits.Descriptions[id]; ok {
		return desc
	}
	return id
}

// Priors returns the prior probability per use case id.
func (c *Catalog) Priors() map[string]float64 {
	priors := make(map[string]float64, len(c.UseCases))
	for id, uc := range c.UseCases {
		priors[id] = uc.Prior
	}
	return priors
}

// MutexRuleFor finds the rule covering a constraint pair, along with its
// category, in either order.
func (c *Catalog) MutexRuleFor(a, b string) (string, MutexRule, bool) {
	for _, category := range c.mutexCategories() {
		for _, rule := range c.MutexConstraints[category] {
			if (rule.ConstraintA == a && rule.ConstraintB == b) ||
				(rule.ConstraintA == b && rule.ConstraintB == a) {
				return category, rule, true
			}
		}
	}
	return "", MutexRule{}, false
}

func (c *Catalog) mutexCategories() []string {
	categories := make([]string, 0, len(c.MutexConstraints))
	for category := range c.MutexConstraints {
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

type productSource []Product

func (p productSource) String(i int) string {
	return p[i].Model + " " + p[i].Name
}

func (p productSource) Len() int {
	return len(p)
}

// SearchProducts fuzzy-matches the query against product models and names,
// best match first. A blank query returns nothing.
func (c *Catalog) SearchProducts(query string) []Product {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	source := productSource(c.Products)
	matches := fuzzy.FindFrom(query, source)
	results := make([]Product, 0, len(matches))
	for _, match := range matches {
		results = append(results, c.Products[match.Index])
	}
	return results
}

// Needs captures the channel counts and operating conditions extracted
// from requirements for product recommendation. Zero channel counts mean
// no need; TempRangeSet gates the temperature filter.
type Needs struct {
	DigitalIn    int
	DigitalOut   int
	AnalogIn     int
	AnalogOut    int
	Protocols    []string
	TempMin      int
	TempMax      int
	TempRangeSet bool
}

func (n Needs) totalChannels() int {
	return n.DigitalIn + n.DigitalOut + n.AnalogIn + n.AnalogOut
}

// RecommendProducts returns catalog entries that satisfy the protocol and
// temperature needs, ranked by how many requested channels each covers.
func (c *Catalog) RecommendProducts(needs Needs) []Product {
	type scored struct {
		product  Product
		coverage int
	}

	var candidates []scored
	for _, product := range c.Products {
		if !protocolsOverlap(product.Protocols, needs.Protocols) {
			continue
		}
		if needs.TempRangeSet {
			if product.TempMin > needs.TempMin || product.TempMax < needs.TempMax {
				continue
			}
		}
		coverage := channelCoverage(product, needs)
		if needs.totalChannels() > 0 && coverage == 0 {
			continue
		}
		candidates = append(candidates, scored{product: product, coverage: coverage})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].coverage != candidates[j].coverage {
			return candidates[i].coverage > candidates[j].coverage
		}
		if candidates[i].product.Watts != candidates[j].product.Watts {
			return candidates[i].product.Watts < candidates[j].product.Watts
		}
		return candidates[i].product.Model < candidates[j].product.Model
	})

	results := make([]Product, len(candidates))
	for i, candidate := range candidates {
		results[i] = candidate.product
	}
	return results
}

func protocolsOverlap(have, want []string) bool {
	if len(want) == 0 {
		return true
	}
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}
	return false
}

func channelCoverage(product Product, needs Needs) int {
	coverage := 0
	coverage += minInt(product.DigitalIn, needs.DigitalIn)
	coverage += minInt(product.DigitalOut, needs.DigitalOut)
	coverage += minInt(product.AnalogIn, needs.AnalogIn)
	coverage += minInt(product.AnalogOut, needs.AnalogOut)
	return coverage
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
