// Package models contains shared data models used across the Stager codebase.
package models

// RoomType identifies the kind of room shown in a source photo.
type RoomType string

const (
	RoomLivingRoom RoomType = "living-room"
	RoomKitchen    RoomType = "kitchen"
	RoomBedroom    RoomType = "bedroom"
	RoomBathroom   RoomType = "bathroom"
	RoomTerrace    RoomType = "terrace"
	RoomOther      RoomType = "other"
)

// RoomTypes lists every room type in display order.
var RoomTypes = []RoomType{RoomLivingRoom, RoomKitchen, RoomBedroom, RoomBathroom, RoomTerrace, RoomOther}

// Valid reports whether r is a known room type.
func (r RoomType) Valid() bool {
	for _, rt := range RoomTypes {
		if r == rt {
			return true
		}
	}
	return false
}

// StyleID identifies a decoration style.
type StyleID string

const (
	StyleNordic        StyleID = "nordic"
	StyleMinimal       StyleID = "minimal"
	StyleIndustrial    StyleID = "industrial"
	StyleMediterranean StyleID = "mediterranean"
	StyleClassic       StyleID = "classic"
)

// StyleIDs lists every style in catalog order.
var StyleIDs = []StyleID{StyleNordic, StyleMinimal, StyleIndustrial, StyleMediterranean, StyleClassic}

func (s StyleID) Valid() bool {
	for _, id := range StyleIDs {
		if s == id {
			return true
		}
	}
	return false
}

// Style is an immutable catalog entry describing a decoration style.
type Style struct {
	ID           StyleID `json:"id"`
	Name         string  `json:"name"`
	ThumbnailRef string  `json:"thumbnail_ref"`
	Description  string  `json:"description"`
}

// ItemCategory groups furniture and decor pieces.
type ItemCategory string

const (
	CategorySofa  ItemCategory = "sofa"
	CategoryTable ItemCategory = "table"
	CategoryChair ItemCategory = "chair"
	CategoryBed   ItemCategory = "bed"
	CategoryLamp  ItemCategory = "lamp"
	CategoryDecor ItemCategory = "decor"
)

// Item is a furniture or decor piece that can be placed in a staged room.
type Item struct {
	ID                  string       `json:"id"`
	Name                string       `json:"name"`
	Category            ItemCategory `json:"category"`
	PreviewRef          string       `json:"preview_ref"`
	ApplicableRoomTypes []RoomType   `json:"applicable_room_types,omitempty"`
}

// Resolution is the output size of a staged image.
type Resolution string

const (
	Resolution1K Resolution = "1k"
	Resolution2K Resolution = "2k"
	Resolution4K Resolution = "4k"
)

// DefaultResolution is used when a request does not name one.
const DefaultResolution = Resolution2K

// Resolutions lists every resolution from smallest to largest.
var Resolutions = []Resolution{Resolution1K, Resolution2K, Resolution4K}

func (r Resolution) Valid() bool {
	_, ok := resolutionDimensions[r]
	return ok
}

// Dimensions returns the pixel width and height rendered for r.
// Unknown resolutions return zero values.
func (r Resolution) Dimensions() (width, height int) {
	d := resolutionDimensions[r]
	return d[0], d[1]
}

var resolutionDimensions = map[Resolution][2]int{
	Resolution1K: {1024, 768},
	Resolution2K: {2048, 1536},
	Resolution4K: {4096, 3072},
}
