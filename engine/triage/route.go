package triage

import "github.com/PhantomAgents/phantom-mvp/engine/domain"

// RouteFor maps a classification to a response path. Rules apply in order:
// an explicit escalation request wins outright, then complaints and negative
// sentiment take the empathetic path, everything else is standard Q&A.
func RouteFor(t domain.TriageResult) domain.Route {
	switch {
	case t.Intent == domain.IntentEscalate:
		return domain.RouteEscalate
	case t.Intent == domain.IntentComplaint || t.Sentiment == domain.SentimentNegative:
		return domain.RouteEmpathetic
	default:
		return domain.RouteStandard
	}
}
