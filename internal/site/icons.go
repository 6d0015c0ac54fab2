package site

import "strings"

// Icon is a navigation or section icon known to the site stylesheet.
type Icon int

const (
	IconDefault Icon = iota
	IconHome
	IconUsers
	IconCalendar
	IconTicket
	IconImage
	IconNewspaper
	IconMapPin
	IconMail
	IconStar
)

var iconNames = map[Icon]string{
	IconDefault:   "circle",
	IconHome:      "home",
	IconUsers:     "users",
	IconCalendar:  "calendar",
	IconTicket:    "ticket",
	IconImage:     "image",
	IconNewspaper: "newspaper",
	IconMapPin:    "map-pin",
	IconMail:      "mail",
	IconStar:      "star",
}

// glyphs are used where no stylesheet is available (terminal output).
var glyphs = map[Icon]string{
	IconDefault:   "•",
	IconHome:      "⌂",
	IconUsers:     "☺",
	IconCalendar:  "▦",
	IconTicket:    "✚",
	IconImage:     "▣",
	IconNewspaper: "≡",
	IconMapPin:    "◉",
	IconMail:      "✉",
	IconStar:      "★",
}

func (i Icon) String() string {
	if n, ok := iconNames[i]; ok {
		return n
	}
	return iconNames[IconDefault]
}

// Class is the CSS class that draws the icon.
func (i Icon) Class() string { return "icon icon-" + i.String() }

func (i Icon) Glyph() string {
	if g, ok := glyphs[i]; ok {
		return g
	}
	return glyphs[IconDefault]
}

// ParseIcon maps a configured name to an Icon. Unknown names report ok=false and
// return IconDefault.
func ParseIcon(name string) (Icon, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "calendar-days", "schedule":
		return IconCalendar, true
	case "photo", "gallery":
		return IconImage, true
	case "news":
		return IconNewspaper, true
	}
	for icon, n := range iconNames {
		if n == name && icon != IconDefault {
			return icon, true
		}
	}
	return IconDefault, false
}
