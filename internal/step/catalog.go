package step

// Canonical step names. Result keys match step names except for the two
// synthesis steps, which write the workflow's terminal keys.
const (
	Calendar        = "calendar"
	PeopleResearch  = "people_research"
	TechContext     = "technical_context"
	CommAnalysis    = "communication_analysis"
	AgendaSynthesis = "agenda_synthesis"
	Coordinator     = "coordinator"
	AgendaBuild     = "agenda_build"
	PrereadCollect  = "preread_collect"
	ContextBriefing = "context_briefing"
)

// Terminal result keys.
const (
	KeyFinalOutput = "final_output" // written only by the coordinator
	KeyAgenda      = "agenda"       // agenda workflow terminal convention
)

// Seed keys the transport layer may pre-populate before any step runs.
const (
	KeyMeetingContext   = "meeting_context"
	KeyFocusMode        = "focus_mode"
	KeyParticipantRoles = "participant_roles"
)

// Catalog returns the descriptors for every known research step. The
// dependency lists mirror the data flow of the preparation pipeline: later
// steps consume earlier steps' outputs, which is why execution within one
// job is strictly sequential.
func Catalog() []Descriptor {
	return []Descriptor{
		{Name: Calendar, Produces: Calendar},
		{Name: PeopleResearch, Needs: []string{Calendar}, Produces: PeopleResearch},
		{Name: TechContext, Needs: []string{Calendar}, Produces: TechContext},
		{Name: CommAnalysis, Needs: []string{Calendar, PeopleResearch}, Produces: CommAnalysis, Optional: true},
		{Name: AgendaSynthesis, Needs: []string{Calendar, PeopleResearch}, Produces: AgendaSynthesis, Optional: true},
		{Name: Coordinator, Needs: []string{Calendar, PeopleResearch, TechContext}, Produces: KeyFinalOutput},
		{Name: AgendaBuild, Needs: []string{KeyMeetingContext, KeyFocusMode}, Produces: KeyAgenda},
		{Name: PrereadCollect, Needs: []string{KeyMeetingContext, KeyAgenda}, Produces: "preread_packet"},
		{Name: ContextBriefing, Needs: []string{KeyMeetingContext, KeyParticipantRoles}, Produces: "briefings", Optional: true},
	}
}
