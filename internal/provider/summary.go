package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/underwrite-cli/internal/aggregate"
	"github.com/sells-group/underwrite-cli/internal/failure"
	"github.com/sells-group/underwrite-cli/internal/model"
	"github.com/sells-group/underwrite-cli/internal/store"
)

// InvestmentSummaryProvider renders the persisted facts of a property as a
// Markdown investment summary. It writes nothing.
type InvestmentSummaryProvider struct {
	results store.ResultReader
	printer *message.Printer
}

// NewInvestmentSummary creates the summary provider.
func NewInvestmentSummary(results store.ResultReader) *InvestmentSummaryProvider {
	return &InvestmentSummaryProvider{results: results, printer: message.NewPrinter(language.AmericanEnglish)}
}

func (p *InvestmentSummaryProvider) Name() string       { return "investment_summary" }
func (p *InvestmentSummaryProvider) Stage() model.Stage { return model.StageInvestmentSummary }

func (p *InvestmentSummaryProvider) Run(ctx context.Context, agg *aggregate.Aggregate, _ store.Writer) (*StageOutput, error) {
	doc, err := p.Render(ctx, agg)
	if err != nil {
		return nil, err
	}
	return &StageOutput{Provider: p.Name(), Stage: p.Stage(), Document: doc}, nil
}

// Render builds the summary document.
func (p *InvestmentSummaryProvider) Render(ctx context.Context, agg *aggregate.Aggregate) (string, error) {
	rows, err := p.results.QueryResults(ctx, agg.ID, model.ResultFinancialProjection, 0)
	if err != nil {
		return "", eris.Wrapf(err, "provider: query projection for %s", agg.ID)
	}
	if len(rows) == 0 {
		return "", failure.NewMissingDependency(string(model.StageFinancialProjection), model.ResultFinancialProjection)
	}
	latest := rows[len(rows)-1].Data

	var b strings.Builder
	title := agg.Address
	if title == "" {
		title = agg.ID
	}
	fmt.Fprintf(&b, "# Investment Summary: %s\n", title)
	fmt.Fprintf(&b, "Property: %s\n", agg.ID)
	fmt.Fprintf(&b, "Family: %s\n\n", agg.Family)

	p.writeAssumptions(&b, agg)

	if agg.Family == model.FamilyMultiFamily {
		var mf MultifamilyProjection
		if err := json.Unmarshal(latest, &mf); err != nil {
			return "", eris.Wrap(err, "provider: decode multifamily projection")
		}
		p.writeMultifamily(&b, mf)
	} else {
		var rp ResidentialProjection
		if err := json.Unmarshal(latest, &rp); err != nil {
			return "", eris.Wrap(err, "provider: decode residential projection")
		}
		p.writeResidential(&b, rp)
	}

	p.writeFacts(&b, agg)
	return b.String(), nil
}

func (p *InvestmentSummaryProvider) writeAssumptions(b *strings.Builder, agg *aggregate.Aggregate) {
	b.WriteString("## Assumptions\n")
	if label := agg.Meta[model.MetaExpenseRateType]; label != "" {
		fmt.Fprintf(b, "- Expense bucket: %s\n", label)
	}
	p.metaLine(b, agg, "Expense rate", model.MetaExpenseRate, p.percent)
	if agg.Has(model.MetaExpenseRateMin) && agg.Has(model.MetaExpenseRateMax) {
		fmt.Fprintf(b, "- Expense range: %s to %s\n",
			p.percentMeta(agg, model.MetaExpenseRateMin), p.percentMeta(agg, model.MetaExpenseRateMax))
	}
	p.metaLine(b, agg, "Vacancy", model.MetaVacancy, p.percent)
	p.metaLine(b, agg, "Income growth", model.MetaIncomeGrowth, p.percent)
	p.metaLine(b, agg, "Expense growth", model.MetaExpenseGrowth, p.percent)
	if scope := agg.Meta[model.MetaRenovationScope]; scope != "" {
		fmt.Fprintf(b, "- Renovation: %s", scope)
		if v, ok, _ := agg.OptionalFloat(model.MetaRenovationCost); ok {
			fmt.Fprintf(b, " (%s per unit)", p.money(v))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func (p *InvestmentSummaryProvider) writeMultifamily(b *strings.Builder, mf MultifamilyProjection) {
	b.WriteString("## Offer\n")
	fmt.Fprintf(b, "- Offer price: %s\n", p.money(mf.OfferPrice))
	fmt.Fprintf(b, "- Down payment: %s\n", p.money(mf.Purchase.DownPayment))
	fmt.Fprintf(b, "- Equity invested: %s\n", p.money(mf.Purchase.EquityInvested))
	fmt.Fprintf(b, "- Base cap rate: %s\n\n", p.percent(mf.BaseCapRate))

	b.WriteString("## Projection\n")
	b.WriteString("| Year | EGI | Expenses | NOI |\n|---|---|---|---|\n")
	for _, y := range mf.Projections {
		fmt.Fprintf(b, "| %d | %s | %s | %s |\n", y.Year, p.money(y.EGI), p.money(y.Expenses), p.money(y.NOI))
	}
	b.WriteString("\n")

	b.WriteString("## Exit Scenarios\n")
	b.WriteString("| Scenario | Exit year | Cap rate | Exit value | Net proceeds | ARR |\n|---|---|---|---|---|---|\n")
	for _, s := range mf.ExitScenarios {
		fmt.Fprintf(b, "| %s | %d | %s | %s | %s | %s |\n",
			s.Label, s.ExitYear, p.percent(s.CapRate), p.money(s.ExitValue), p.money(s.NetProceeds), p.percent(s.ARR))
	}
	b.WriteString("\n")
}

func (p *InvestmentSummaryProvider) writeResidential(b *strings.Builder, rp ResidentialProjection) {
	b.WriteString("## Offer\n")
	fmt.Fprintf(b, "- Price per foot: %s (%d of %d comps)\n", p.money(rp.PricePerFoot), rp.CompsUsed, rp.CompsTotal)
	fmt.Fprintf(b, "- ARV: %s\n", p.money(rp.ARV))
	fmt.Fprintf(b, "- Offer price: %s\n\n", p.money(rp.OfferPrice))

	b.WriteString("## Income\n")
	fmt.Fprintf(b, "- Market NOI: %s\n", p.money(rp.MarketNOI))
	if rp.FMRNOI != nil {
		fmt.Fprintf(b, "- FMR NOI: %s\n", p.money(*rp.FMRNOI))
	} else {
		b.WriteString("- FMR NOI: n/a\n")
	}
	b.WriteString("\n")
}

func (p *InvestmentSummaryProvider) writeFacts(b *strings.Builder, agg *aggregate.Aggregate) {
	b.WriteString("## Facts\n")
	keys := make([]string, 0, len(agg.Meta))
	for k := range agg.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "- %s: %s\n", k, agg.Meta[k])
	}
}

func (p *InvestmentSummaryProvider) metaLine(b *strings.Builder, agg *aggregate.Aggregate, label, key string, format func(float64) string) {
	if v, ok, err := agg.OptionalFloat(key); err == nil && ok {
		fmt.Fprintf(b, "- %s: %s\n", label, format(v))
	}
}

func (p *InvestmentSummaryProvider) percentMeta(agg *aggregate.Aggregate, key string) string {
	v, _, _ := agg.OptionalFloat(key)
	return p.percent(v)
}

func (p *InvestmentSummaryProvider) money(v float64) string {
	return p.printer.Sprintf("$%.2f", v)
}

func (p *InvestmentSummaryProvider) percent(v float64) string {
	return p.printer.Sprintf("%.2f%%", v*100)
}
