package ahjo

import (
	"fmt"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"

	appdomain "github.com/tukilabs/benefit/internal/application/domain"
	batchdomain "github.com/tukilabs/benefit/internal/batch/domain"
)

type reportBuilder struct{}

func NewReportBuilder() batchdomain.ReportBuilder {
	return &reportBuilder{}
}

// BuildDecisionReport renders the decision-report PDF listing the batch
// members and the decision metadata collected so far.
func (b *reportBuilder) BuildDecisionReport(batch *batchdomain.Batch, members []appdomain.Application) ([]byte, error) {
	cfg := config.NewBuilder().
		WithLeftMargin(15).
		WithRightMargin(15).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12, text.NewCol(12, "Benefit decision batch "+batch.ID.String(), props.Text{
		Size:  14,
		Style: fontstyle.Bold,
	}))
	m.AddRow(8, text.NewCol(12, fmt.Sprintf("Applications: %d", len(members)), props.Text{Size: 10}))

	if batch.DecisionMakerName != "" {
		m.AddRow(6, text.NewCol(12, "Decision maker: "+batch.DecisionMakerName+", "+batch.DecisionMakerTitle, props.Text{Size: 9}))
	}
	if batch.SectionOfLaw != "" {
		m.AddRow(6, text.NewCol(12, "Section of law: "+batch.SectionOfLaw, props.Text{Size: 9}))
	}

	m.AddRow(8,
		text.NewCol(3, "Application", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(6, "Employer", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(3, "Subsidy period", props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)

	for _, member := range members {
		period := member.SubsidyStartDate.Format("2.1.2006") + " - " + member.SubsidyEndDate.Format("2.1.2006")
		m.AddRow(6,
			text.NewCol(3, member.ApplicationNumber, props.Text{Size: 9}),
			text.NewCol(6, member.CompanyName, props.Text{Size: 9}),
			text.NewCol(3, period, props.Text{Size: 9, Align: align.Right}),
		)
	}

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate decision report: %w", err)
	}
	return doc.GetBytes(), nil
}
