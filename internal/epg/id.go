// SPDX-License-Identifier: MIT
package epg

import "strconv"

// ServiceItemID returns the stable identifier of a service: nid*100000 + sid.
func ServiceItemID(networkID, serviceID uint16) int64 {
	return int64(networkID)*100000 + int64(serviceID)
}

// ProgramID returns the stable identifier of an event: serviceItemID*100000 + eventID.
func ProgramID(networkID, serviceID, eventID uint16) int64 {
	return ServiceItemID(networkID, serviceID)*100000 + int64(eventID)
}

// SplitProgramID reverses ProgramID.
func SplitProgramID(id int64) (networkID, serviceID, eventID uint16) {
	eventID = uint16(id % 100000)
	item := id / 100000
	return uint16(item / 100000), uint16(item % 100000), eventID
}

// xmltvChannelID derives the XMLTV channel id for a service.
func xmltvChannelID(networkID, serviceID uint16) string {
	return strconv.FormatInt(ServiceItemID(networkID, serviceID), 10)
}
