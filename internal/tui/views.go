package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"

	"github.com/gazar78gazar/reqMas-MVP/internal/catalog"
	"github.com/gazar78gazar/reqMas-MVP/internal/session"
)

// productItem adapts a catalog entry to the list component. The filter
// value folds in model, name, kind, and protocols so fuzzy matching
// reaches all of them.
type productItem struct {
	product catalog.Product
}

func (p productItem) Title() string {
	return fmt.Sprintf("%s · %s", p.product.Model, p.product.Name)
}

func (p productItem) Description() string {
	parts := []string{ioSummary(p.product)}
	if len(p.product.Protocols) > 0 {
		parts = append(parts, strings.Join(p.product.Protocols, "/"))
	}
	parts = append(parts, fmt.Sprintf("%d..%d C", p.product.TempMin, p.product.TempMax))
	if p.product.Watts > 0 {
		parts = append(parts, fmt.Sprintf("%dW", p.product.Watts))
	}
	return strings.Join(parts, " · ")
}

func (p productItem) FilterValue() string {
	fields := append([]string{p.product.Model, p.product.Name, p.product.Kind}, p.product.Protocols...)
	return strings.Join(fields, " ")
}

func ioSummary(p catalog.Product) string {
	return fmt.Sprintf("DI %d · DO %d · AI %d · AO %d", p.DigitalIn, p.DigitalOut, p.AnalogIn, p.AnalogOut)
}

func buildProductList(cat *catalog.Catalog) list.Model {
	items := make([]list.Item, 0, len(cat.Products))
	for _, product := range cat.Products {
		items = append(items, productItem{product: product})
	}
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Product Catalog"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	return l
}

func (a *App) productsView() string {
	return a.products.View()
}

// progressView shows elicitation coverage, the completeness bar, and
// the current use case beliefs.
func (a *App) progressView() string {
	width := max(24, a.width-6)
	threshold := a.config.CompletenessThreshold()

	var b strings.Builder
	b.WriteString(accentStyle.Render("Requirements coverage") + "\n\n")

	barStyle := warnStyle
	if a.score >= threshold {
		barStyle = okStyle
	}
	b.WriteString(fmt.Sprintf("Completeness %s %.0f%% (target %.0f%%)\n\n",
		barStyle.Render(renderBar(a.score, 24)), a.score*100, threshold*100))

	for _, category := range session.Categories() {
		progress := a.progress.ByCategory[category]
		b.WriteString(fmt.Sprintf("%-14s %s %d/%d answered · %d asked\n",
			category, renderBar(ratio(progress.Answered, progress.Total), 16),
			progress.Answered, progress.Total, progress.Asked))
	}

	b.WriteString("\n")
	if covered := a.state.CategoriesCovered(); len(covered) > 0 {
		b.WriteString("Covered: " + strings.Join(covered, ", ") + "\n")
	} else {
		b.WriteString(systemStyle.Render("No categories covered yet.") + "\n")
	}

	b.WriteString(fmt.Sprintf("Processed inputs: %d · active constraints: %d\n",
		a.pstatus.ProcessingHistory, len(a.pstatus.ActiveConstraints)))
	for _, score := range a.pstatus.UseCaseBeliefs {
		b.WriteString(fmt.Sprintf("  %s %s %.0f%%\n",
			score.UseCaseID, a.catalog.UseCaseName(score.UseCaseID), score.Probability*100))
	}

	return boxStyle.Width(width).Render(b.String())
}

// summaryView shows the validation verdict and the products that match
// the answered requirements.
func (a *App) summaryView() string {
	width := max(24, a.width-6)

	var b strings.Builder
	b.WriteString(accentStyle.Render("Validation") + "\n")
	switch {
	case a.report == nil || (a.state.AnsweredCount() == 0 && len(a.pstatus.ActiveConstraints) == 0):
		b.WriteString(systemStyle.Render("Nothing validated yet. Answer a few questions first.") + "\n")
	default:
		verdict := okStyle.Render("PASS")
		if !a.report.IsValid {
			verdict = errorStyle.Render("FAIL")
		}
		b.WriteString("Verdict: " + verdict + "\n")
		for _, violation := range a.report.Violations {
			b.WriteString(errorStyle.Render("  x "+violation) + "\n")
		}
		for _, warning := range a.report.Warnings {
			b.WriteString(warnStyle.Render("  ! "+warning) + "\n")
		}
		for _, suggestion := range a.report.Suggestions {
			b.WriteString(systemStyle.Render("  · "+suggestion) + "\n")
		}
	}

	b.WriteString("\n" + accentStyle.Render("Recommended products") + "\n")
	if len(a.recommended) == 0 {
		b.WriteString(systemStyle.Render("No matches yet.") + "\n")
	} else {
		for i, product := range a.recommended {
			if i == 5 {
				break
			}
			b.WriteString(fmt.Sprintf("  %s · %s · %s\n", product.Model, product.Name, ioSummary(product)))
		}
	}

	if len(a.pstatus.ActiveConstraints) > 0 {
		b.WriteString("\n" + accentStyle.Render("Constraints") + "\n")
		for _, id := range a.pstatus.ActiveConstraints {
			b.WriteString(fmt.Sprintf("  %s · %s\n", id, a.catalog.DescribeConstraint(id)))
		}
	}

	return boxStyle.Width(width).Render(b.String())
}

func renderBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction*float64(width) + 0.5)
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func ratio(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}
