// SPDX-License-Identifier: MIT

package epg

import (
	"encoding/xml"
	"sort"
	"time"
)

type TV struct {
	XMLName   xml.Name    `xml:"tv"`
	Generator string      `xml:"generator-info-name,attr,omitempty"`
	Channels  []Channel   `xml:"channel"`
	Programs  []Programme `xml:"programme"`
}

type Channel struct {
	ID          string   `xml:"id,attr"`
	DisplayName []string `xml:"display-name"`
}

type Programme struct {
	Start   string `xml:"start,attr"`
	Stop    string `xml:"stop,attr"`
	Channel string `xml:"channel,attr"`
	Title   Title  `xml:"title"`
	Desc    string `xml:"desc,omitempty"`
}

type Title struct {
	// Lang contains the language code for the title (optional).
	Lang string `xml:"lang,attr,omitempty"`
	// Value is the character data of the title element.
	Value string `xml:",chardata"`
}

// ServiceInfo names a service for the channel list of an export.
type ServiceInfo struct {
	NetworkID uint16
	ServiceID uint16
	Name      string
}

// GenerateXMLTV builds an XMLTV document from services and stored programs.
// Programs of services that are not listed, and programs without a title, are skipped.
func GenerateXMLTV(services []ServiceInfo, programs []Program) *TV {
	tv := &TV{
		Generator: "tunerd",
		Channels:  make([]Channel, 0, len(services)),
		Programs:  make([]Programme, 0, len(programs)),
	}

	known := make(map[ServiceKey]string, len(services))
	for _, s := range services {
		id := xmltvChannelID(s.NetworkID, s.ServiceID)
		known[ServiceKey{NetworkID: s.NetworkID, ServiceID: s.ServiceID}] = id
		tv.Channels = append(tv.Channels, Channel{ID: id, DisplayName: []string{s.Name}})
	}

	for _, p := range programs {
		id, ok := known[ServiceKey{NetworkID: p.NetworkID, ServiceID: p.ServiceID}]
		if !ok || p.Name == "" {
			continue
		}
		tv.Programs = append(tv.Programs, Programme{
			Start:   formatXMLTVTime(p.StartAt),
			Stop:    formatXMLTVTime(p.EndAt()),
			Channel: id,
			Title:   Title{Value: p.Name},
			Desc:    p.Description,
		})
	}

	sort.SliceStable(tv.Programs, func(i, j int) bool {
		if tv.Programs[i].Channel != tv.Programs[j].Channel {
			return tv.Programs[i].Channel < tv.Programs[j].Channel
		}
		return tv.Programs[i].Start < tv.Programs[j].Start
	})
	return tv
}

// formatXMLTVTime formats time in XMLTV format: YYYYMMDDHHMMSS +ZZZZ
func formatXMLTVTime(t time.Time) string {
	return t.Format("20060102150405 -0700")
}
