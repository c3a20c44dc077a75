package engagement

import (
	"slices"
	"strconv"
	"time"
)

// Apply returns the state that results from applying e to s. It is pure: s is
// never modified and the result shares no mutable memory with s. Every event
// advances LastActivityAt.
func Apply(s State, e Event) State {
	next := s.Clone()
	if !e.Timestamp.IsZero() {
		next.LastActivityAt = e.Timestamp
	}

	switch p := e.Payload.(type) {
	case ExchangeSent:
		next.ExchangeCount++
		next.TotalExchangeCount++

	case LensSelected:
		next.ActiveLensID = StringPtr(p.LensID)
		next.HasCustomLens = p.IsCustom || s.HasCustomLens
		next.CurrentArchetypeID = nil
		if p.ArchetypeID != "" {
			next.CurrentArchetypeID = StringPtr(p.ArchetypeID)
		}
		// A new persona starts a fresh conversation; the lifetime total is kept.
		next.ExchangeCount = 0

	case JourneyStarted:
		next.JourneysStarted++
		next.ActiveJourney = &ActiveJourney{
			LensID:        p.LensID,
			ThreadCardIDs: []string{},
			StartedAt:     e.Timestamp,
		}

	case JourneyCompleted:
		next.JourneysCompleted++
		next.ActiveJourney = nil

	case TopicExplored:
		next.TopicsExplored = appendUnique(next.TopicsExplored, p.TopicID)

	case CardVisited:
		next.CardsVisited = appendUnique(next.CardsVisited, p.CardID)
		if next.ActiveJourney != nil {
			next.ActiveJourney.ThreadCardIDs = append(next.ActiveJourney.ThreadCardIDs, p.CardID)
			next.ActiveJourney.CurrentPosition = len(next.ActiveJourney.ThreadCardIDs)
		}

	case HubVisited:
		next.HubsVisited = appendUnique(next.HubsVisited, p.HubID)

	case SproutCaptured:
		next.SproutsCaptured++

	case PivotClicked:
		next.PivotsClicked++

	case RevealShown:
		next.RevealsShown = appendUnique(next.RevealsShown, p.RevealType)

	case RevealDismissed:
		if (p.Action == ActionAccepted || p.Action == ActionDeclined) && next.HasShown(p.RevealType) {
			next.RevealsAcknowledged = appendUnique(next.RevealsAcknowledged, p.RevealType)
		}
		if p.RevealType == RevealTerminatorPrompt && p.Action == ActionAccepted {
			next.TerminatorModeUnlocked = true
			next.TerminatorModeActive = true
		}

	case MomentShown:
		next.Flags = setFlag(next.Flags, momentFlag(p.MomentID, "shown"))
		if next.MomentLastShown == nil {
			next.MomentLastShown = make(map[string]time.Time)
		}
		next.MomentLastShown[p.MomentID] = e.Timestamp

	case MomentActioned:
		next.Flags = setFlag(next.Flags, momentFlag(p.MomentID, "actioned"))

	case MomentDismissed:
		next.Flags = setFlag(next.Flags, momentFlag(p.MomentID, "dismissed"))

	case TimeMilestone:
		next.Flags = setFlag(next.Flags, MilestoneFlag(p.Minutes))

	case SessionStarted, SessionResumed:
		// activity timestamp only
	}

	return next
}

func appendUnique[T comparable](list []T, v T) []T {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func setFlag(flags map[string]bool, key string) map[string]bool {
	if flags == nil {
		flags = make(map[string]bool)
	}
	flags[key] = true
	return flags
}

// MomentFlag is the flag key recorded when a moment is shown, actioned or
// dismissed, e.g. moment_welcome_shown.
func MomentFlag(momentID, what string) string {
	return momentFlag(momentID, what)
}

func momentFlag(momentID, what string) string {
	return "moment_" + momentID + "_" + what
}

// MilestoneFlag is the flag key recorded when a time milestone fires.
func MilestoneFlag(minutes int) string {
	return "milestone_" + strconv.Itoa(minutes)
}
