package worker

import (
	"fmt"

	"github.com/faceit-mod/chatfleet/internal/apitypes"
)

// baseGUID returns the guid a room's MUC-Light/supergroup identifiers are
// anchored on: the parent for chat/ihl entities, the entity itself for a
// community (spec §6 "Room identifier derivation").
func baseGUID(e apitypes.EntityConfig) string {
	if e.Type == apitypes.EntityChat || e.Type == apitypes.EntityIHL {
		return e.ParentGUID
	}
	return e.GUID
}

// MUCLightJID returns the MUC-Light room JID used to address an entity.
func MUCLightJID(e apitypes.EntityConfig, mucDomain string) string {
	base := baseGUID(e)
	if e.Type == apitypes.EntityCommunity {
		return fmt.Sprintf("club-%s-general@%s", base, mucDomain)
	}
	return fmt.Sprintf("club-%s-channel-%s@%s", base, e.GUID, mucDomain)
}

// SupergroupJID returns the supergroup base JID for an entity.
func SupergroupJID(e apitypes.EntityConfig, supergroupDomain string) string {
	return fmt.Sprintf("club-%s@%s", baseGUID(e), supergroupDomain)
}

// PresenceGroupPath returns the path suffix (resource) appended to the
// supergroup JID to form the presence-group identifier for an entity.
func PresenceGroupPath(e apitypes.EntityConfig) string {
	if e.Type == apitypes.EntityCommunity {
		return "general"
	}
	return "channel-" + e.GUID
}
