package models

import "strings"

// RobotType identifies the business category of a robot.
type RobotType string

const (
	RobotTypeOnboarding        RobotType = "ONBOARDING"
	RobotTypeCheckin           RobotType = "CHECKIN"
	RobotTypeToolReminder      RobotType = "TOOL_REMINDER"
	RobotTypeEmptyAgenda       RobotType = "EMPTY_AGENDA"
	RobotTypeEmptyToolkit      RobotType = "EMPTY_TOOLKIT"
	RobotTypeGreeting          RobotType = "GREETING"
	RobotTypeTip               RobotType = "TIP"
	RobotTypeWelcomeBack       RobotType = "WELCOME_BACK"
	RobotTypeHaveNiceDay       RobotType = "HAVE_NICE_DAY"
	RobotTypeFlowChart         RobotType = "FLOW_CHART"
	RobotTypeTreatmentTimeline RobotType = "TREATMENT_TIMELINE"
)

// RobotKind discriminates the storage variant a robot was loaded from.
// It is set once by the store and never inferred from field presence.
type RobotKind string

const (
	// RobotKindDaily is a daily or onboarding robot carrying a title type.
	RobotKindDaily RobotKind = "daily"
	// RobotKindTopTip is a tip pinned to a calendar date.
	RobotKindTopTip RobotKind = "top_tip"
	// RobotKindFlowChart is a node of a flow-chart dialogue.
	RobotKindFlowChart RobotKind = "flow_chart"
	// RobotKindHaveNiceDay is the terminal fallback robot.
	RobotKindHaveNiceDay RobotKind = "have_nice_day"
)

// TitleType tells whether a daily robot title is rewritten with a salutation.
type TitleType string

const (
	TitleTypeNormal   TitleType = "normal"
	TitleTypeGreeting TitleType = "greeting"
)

// Page is the feed location a robot is shown on.
type Page string

const (
	PageDashboard Page = "DASHBOARD"
	PageAgenda    Page = "AGENDA"
	PageToolkit   Page = "TOOLKIT"
)

// IsValidPage checks if p is empty or a known feed page.
func IsValidPage(p Page) bool {
	switch p {
	case "", PageDashboard, PageAgenda, PageToolkit:
		return true
	default:
		return false
	}
}

// ButtonAction is what tapping a robot button does.
type ButtonAction string

const (
	ButtonActionClose    ButtonAction = "close"
	ButtonActionNext     ButtonAction = "next"
	ButtonActionNavigate ButtonAction = "navigate"
)

// ButtonPage is the abstract in-app destination of a navigate button.
type ButtonPage string

const (
	ButtonPageHome              ButtonPage = "HOME"
	ButtonPageAgenda            ButtonPage = "AGENDA"
	ButtonPageToolkitCategories ButtonPage = "TOOLKIT_CATEGORIES"
	ButtonPageUserProfile       ButtonPage = "USER_PROFILE"
	ButtonPageToolkit           ButtonPage = "TOOLKIT"
	ButtonPageToolkitType       ButtonPage = "TOOLKIT_TYPE"
	ButtonPageService           ButtonPage = "SERVICE"
	ButtonPageServiceCompany    ButtonPage = "SERVICE_COMPANY_INFO"
	ButtonPageChallenge         ButtonPage = "CHALLENGE"
	ButtonPageOffer             ButtonPage = "OFFER"
	ButtonPageSchedule          ButtonPage = "SCHEDULE"
)

// RobotButton is a button rendered under a robot message.
type RobotButton struct {
	Label       string       `json:"label" validate:"required,max=100"`
	Action      ButtonAction `json:"action" validate:"required,oneof=close next navigate"`
	Page        ButtonPage   `json:"page,omitempty" validate:"required_if=Action navigate"`
	ToolKitID   string       `json:"tool_kit_id,omitempty"`
	ServiceID   string       `json:"service_id,omitempty"`
	OfferID     string       `json:"offer_id,omitempty"`
	ChallengeID string       `json:"challenge_id,omitempty"`
	RobotID     string       `json:"robot_id,omitempty"`
	DeepLink    string       `json:"deep_link,omitempty"`
}

// Robot is a message card shown in the user's feed.
type Robot struct {
	ID                 string       `json:"id" db:"id"`
	Kind               RobotKind    `json:"kind" db:"-"`
	Type               RobotType    `json:"type" db:"robot_type"`
	Title              string       `json:"title" db:"title"`
	Body               string       `json:"body" db:"body"`
	TitleType          TitleType    `json:"title_type,omitempty" db:"title_type"`
	TipType            string       `json:"tip_type,omitempty" db:"tip_type"`
	Buttons            Buttons      `json:"buttons" db:"buttons"`
	SuggestedToolkitID string       `json:"suggested_toolkit_id,omitempty" db:"suggested_toolkit_id"`
	Page               Page         `json:"page,omitempty" db:"page"`
	Translations       Translations `json:"-" db:"translations"`
	NotificationID     string       `json:"notification_id,omitempty" db:"-"`
	IsStartNode        bool         `json:"is_start_node,omitempty" db:"-"`
}

// ReplaceBody substitutes every occurrence of placeholder in the body.
func (r *Robot) ReplaceBody(placeholder, value string) {
	r.Body = strings.ReplaceAll(r.Body, placeholder, value)
}

// ReplaceTitle substitutes every occurrence of placeholder in the title.
func (r *Robot) ReplaceTitle(placeholder, value string) {
	r.Title = strings.ReplaceAll(r.Title, placeholder, value)
}

// FlowChartRobot is a node of a flow-chart dialogue tree.
type FlowChartRobot struct {
	ID           string       `json:"id" db:"id"`
	Title        string       `json:"title" db:"title"`
	Body         string       `json:"body" db:"body"`
	IsStartNode  bool         `json:"is_start_node" db:"is_start_node"`
	Buttons      Buttons      `json:"buttons" db:"buttons"`
	Translations Translations `json:"translations,omitempty" db:"translations"`
	Completed    bool         `json:"completed,omitempty" db:"completed"`
}

// Targets returns the ids of the nodes this node's buttons lead to.
func (f FlowChartRobot) Targets() []string {
	return f.Buttons.Targets()
}

// IsLeaf reports whether the node has no outgoing node references.
func (f FlowChartRobot) IsLeaf() bool {
	return len(f.Targets()) == 0
}

// AsRobot converts the node into a feed robot.
func (f FlowChartRobot) AsRobot() Robot {
	return Robot{
		ID:           f.ID,
		Kind:         RobotKindFlowChart,
		Type:         RobotTypeFlowChart,
		Title:        f.Title,
		Body:         f.Body,
		Buttons:      append(Buttons(nil), f.Buttons...),
		Translations: f.Translations,
		IsStartNode:  f.IsStartNode,
	}
}

// MarkCompletedStartNodes returns the start nodes among nodes. A start node is
// completed when it, or any node reachable from it through button links, is in
// logged. Cycles are walked once.
func MarkCompletedStartNodes(nodes []FlowChartRobot, logged map[string]bool) []FlowChartRobot {
	byID := make(map[string]FlowChartRobot, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	var starts []FlowChartRobot
	for _, n := range nodes {
		if !n.IsStartNode {
			continue
		}
		n.Completed = reachesLogged(n.ID, byID, logged)
		starts = append(starts, n)
	}
	return starts
}

func reachesLogged(start string, byID map[string]FlowChartRobot, logged map[string]bool) bool {
	seen := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if logged[id] {
			return true
		}
		for _, next := range byID[id].Targets() {
			if _, ok := byID[next]; ok && !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// FlowChartRobotInput is the admin payload for creating or updating a node.
type FlowChartRobotInput struct {
	Title        string        `json:"title" validate:"required,max=255"`
	Body         string        `json:"body" validate:"required"`
	IsStartNode  bool          `json:"is_start_node"`
	Buttons      []RobotButton `json:"buttons" validate:"dive"`
	Translations Translations  `json:"translations,omitempty"`
}

// Targets returns the ids of the nodes the input's buttons lead to.
func (in FlowChartRobotInput) Targets() []string {
	return Buttons(in.Buttons).Targets()
}

// RobotFeed is the payload returned by the robots query.
type RobotFeed struct {
	Robots []Robot `json:"robots"`
}
