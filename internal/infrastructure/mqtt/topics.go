package mqtt

import "strings"

// TopicPrefix is the root of every topic hublink publishes or subscribes to.
const TopicPrefix = "hublink"

// Topics builds hublink topic names.
//
//	mqtt.Topics{}.EntityState("light.kitchen") // "hublink/state/light.kitchen"
type Topics struct{}

// EntityState is the retained state topic for an entity.
func (Topics) EntityState(entityID string) string {
	return TopicPrefix + "/state/" + entityID
}

// AllEntityStates matches every entity state topic.
func (Topics) AllEntityStates() string {
	return TopicPrefix + "/state/+"
}

// Event is the topic hub events of eventType are forwarded to.
func (Topics) Event(eventType string) string {
	return TopicPrefix + "/event/" + eventType
}

// SystemStatus carries the online/offline status and the LWT.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// Command is the topic that requests domain.service on the hub.
func (Topics) Command(domain, service string) string {
	return TopicPrefix + "/command/" + domain + "/" + service
}

// AllCommands matches every command topic.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+/+"
}

// ParseCommandTopic extracts domain and service from a command topic.
func ParseCommandTopic(topic string) (domain, service string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/command/")
	if !found {
		return "", "", false
	}
	domain, service, found = strings.Cut(rest, "/")
	if !found || domain == "" || service == "" || strings.Contains(service, "/") {
		return "", "", false
	}
	return domain, service, true
}
