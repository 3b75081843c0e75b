package flow

import (
	"strings"

	"github.com/BTreeMap/CarePipe/internal/graph"
	"github.com/BTreeMap/CarePipe/internal/models"
)

// Route labels, one closed set per decision point.
type (
	inputRoute   string
	policyRoute  string
	intentRoute  string
	missingRoute string
	hitlRoute    string
	reviewRoute  string
)

const (
	inputEmpty   inputRoute = "empty"
	inputPresent inputRoute = "present"

	policyEscalate policyRoute = "escalate"
	policyContinue policyRoute = "continue"

	intentEmergency intentRoute = "emergency"
	intentContinue  intentRoute = "continue"

	missingNeedInfo missingRoute = "need_info"
	missingComplete missingRoute = "continue"

	hitlRequired hitlRoute = "hitl"
	hitlGenerate hitlRoute = "generate"

	reviewApproved reviewRoute = "approved"
	reviewOther    reviewRoute = "other"
)

func routeAfterValidation(s *models.ConversationState) inputRoute {
	if strings.TrimSpace(s.CurrentInput) == "" {
		return inputEmpty
	}
	return inputPresent
}

func routeAfterModeration(s *models.ConversationState) policyRoute {
	if s.Flags.Moderation.Raised {
		return policyEscalate
	}
	return policyContinue
}

func routeAfterCallLimit(s *models.ConversationState) policyRoute {
	if s.Status == models.StatusEscalate {
		return policyEscalate
	}
	return policyContinue
}

func routeAfterIntent(s *models.ConversationState) intentRoute {
	if s.Intent == models.IntentEmergency {
		return intentEmergency
	}
	return intentContinue
}

func routeAfterMissing(s *models.ConversationState) missingRoute {
	if len(s.MissingFields) > 0 || s.Intent == models.IntentUnknown {
		return missingNeedInfo
	}
	return missingComplete
}

func routeAfterHITLGate(s *models.ConversationState) hitlRoute {
	if s.Flags.HITL.Raised {
		return hitlRequired
	}
	return hitlGenerate
}

func routeAfterReview(s *models.ConversationState) reviewRoute {
	if s.Approval == models.ApprovalApproved {
		return reviewApproved
	}
	return reviewOther
}

func routeByStage(s *models.ConversationState) models.Stage {
	return s.Stage
}

// BuildConsoleGraph compiles the one-stage-per-turn topology. The router dispatches on the
// conversation stage; every stage then exits back to the caller, except an approved review
// which submits the request in the same turn.
func (st *Stages) BuildConsoleGraph(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder("console", opts...).
		AddStage(NodeRouter, st.router).
		AddStage(NodeDetectIntent, st.detectIntent).
		AddStage(NodeCollectName, st.collectName).
		AddStage(NodeCollectPhone, st.collectPhone).
		AddStage(NodeCollectDay, st.collectDay).
		AddStage(NodeCollectTime, st.collectTime).
		AddStage(NodeHITLReview, st.reviewDraft).
		AddStage(NodeSubmitRequest, st.submitRequest).
		SetEntry(NodeRouter)

	graph.AddConditionalEdge(b, NodeRouter, routeByStage, map[models.Stage]string{
		models.StageDetect:       NodeDetectIntent,
		models.StageCollectName:  NodeCollectName,
		models.StageCollectPhone: NodeCollectPhone,
		models.StageCollectDay:   NodeCollectDay,
		models.StageCollectTime:  NodeCollectTime,
		models.StageHITLReview:   NodeHITLReview,
		models.StageDone:         graph.End,
	})
	for _, node := range []string{NodeDetectIntent, NodeCollectName, NodeCollectPhone, NodeCollectDay, NodeCollectTime, NodeSubmitRequest} {
		b.AddEdge(node, graph.End)
	}
	graph.AddConditionalEdge(b, NodeHITLReview, routeAfterReview, map[reviewRoute]string{
		reviewApproved: NodeSubmitRequest,
		reviewOther:    graph.End,
	})
	return b.Compile()
}

// BuildPipelineGraph compiles the full-chain topology used by request/response transports.
func (st *Stages) BuildPipelineGraph(opts ...graph.Option) (*graph.Graph, error) {
	b := graph.NewBuilder("pipeline", opts...).
		AddStage(NodeValidateInput, st.validateInput).
		AddStage(NodeModerationCheck, st.moderationCheck).
		AddStage(NodePIICheck, st.piiCheck).
		AddStage(NodeContextEdit, st.contextEdit).
		AddStage(NodeCallLimitCheck, st.callLimitCheck).
		AddStage(NodeIntentClassify, st.intentClassify).
		AddStage(NodeEntityExtract, st.entityExtract).
		AddStage(NodeMissingFieldCheck, st.missingFieldCheck).
		AddStage(NodeHITLGate, st.hitlGate).
		AddStage(NodeHITLReview, st.reviewPending).
		AddStage(NodeResponseGenerate, st.responseGenerate).
		AddStage(NodeFinalize, st.finalize).
		SetEntry(NodeValidateInput).
		AddEdge(NodePIICheck, NodeContextEdit).
		AddEdge(NodeContextEdit, NodeCallLimitCheck).
		AddEdge(NodeEntityExtract, NodeMissingFieldCheck).
		AddEdge(NodeHITLReview, NodeResponseGenerate).
		AddEdge(NodeResponseGenerate, NodeFinalize).
		AddEdge(NodeFinalize, graph.End)

	graph.AddConditionalEdge(b, NodeValidateInput, routeAfterValidation, map[inputRoute]string{
		inputEmpty:   NodeFinalize,
		inputPresent: NodeModerationCheck,
	})
	graph.AddConditionalEdge(b, NodeModerationCheck, routeAfterModeration, map[policyRoute]string{
		policyEscalate: NodeFinalize,
		policyContinue: NodePIICheck,
	})
	graph.AddConditionalEdge(b, NodeCallLimitCheck, routeAfterCallLimit, map[policyRoute]string{
		policyEscalate: NodeFinalize,
		policyContinue: NodeIntentClassify,
	})
	graph.AddConditionalEdge(b, NodeIntentClassify, routeAfterIntent, map[intentRoute]string{
		intentEmergency: NodeFinalize,
		intentContinue:  NodeEntityExtract,
	})
	graph.AddConditionalEdge(b, NodeMissingFieldCheck, routeAfterMissing, map[missingRoute]string{
		missingNeedInfo: NodeResponseGenerate,
		missingComplete: NodeHITLGate,
	})
	graph.AddConditionalEdge(b, NodeHITLGate, routeAfterHITLGate, map[hitlRoute]string{
		hitlRequired: NodeHITLReview,
		hitlGenerate: NodeResponseGenerate,
	})
	return b.Compile()
}
