package broker

import (
	"encoding/json"
	"strings"
)

// Topic roots.
const (
	TopicPrefix        = "omnicapture"
	TopicCapturePrefix = TopicPrefix + "/capture"
	TopicCommandPrefix = TopicPrefix + "/command"
	TopicResultPrefix  = TopicPrefix + "/result"
)

// Published topics.
const (
	TopicState        = TopicCapturePrefix + "/state"
	TopicStats        = TopicCapturePrefix + "/stats"
	TopicWarnings     = TopicCapturePrefix + "/warnings"
	TopicSegments     = TopicCapturePrefix + "/segments"
	TopicAttempts     = TopicCapturePrefix + "/attempts"
	TopicCapabilities = TopicPrefix + "/encoder/capabilities"
)

// Command actions.
const (
	ActionStart  = "start"
	ActionStop   = "stop"
	ActionPause  = "pause"
	ActionResume = "resume"
)

// TopicCommand returns the topic a command is published on.
func TopicCommand(action string) string {
	return TopicCommandPrefix + "/" + action
}

// TopicResult returns the topic the result of a command is published on.
func TopicResult(action string) string {
	return TopicResultPrefix + "/" + action
}

// actionFromTopic extracts the action of a command topic.
func actionFromTopic(topic string) (string, bool) {
	action, ok := strings.CutPrefix(topic, TopicCommandPrefix+"/")
	if !ok || action == "" || strings.Contains(action, "/") {
		return "", false
	}
	return action, true
}

// CommandMessage is the optional payload of a command. Empty fields keep
// the configured capture settings.
type CommandMessage struct {
	OutputDirectory string `json:"output_directory,omitempty"`
	OutputFileName  string `json:"output_file_name,omitempty"`
	// Finalize applies to stop and defaults to true.
	Finalize *bool `json:"finalize,omitempty"`
}

// UnmarshalCommand decodes a command payload. An empty payload is valid.
func UnmarshalCommand(data []byte) (CommandMessage, error) {
	var m CommandMessage
	if len(strings.TrimSpace(string(data))) == 0 {
		return m, nil
	}
	err := json.Unmarshal(data, &m)
	return m, err
}

// CommandResult is published after each command.
type CommandResult struct {
	Action    string `json:"action"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	State     string `json:"state"`
	Attempt   int    `json:"attempt"`
	Timestamp string `json:"timestamp"`
}
