// Package catalog serves the read-only decoration styles and furniture items
// offered by the staging wizard.
package catalog

import "github.com/kiranshivaraju/stager/pkg/models"

// Catalog holds styles and per-room items. It is built once and never mutated,
// so it is safe for concurrent use. Zero value is an empty catalog.
type Catalog struct {
	styles []models.Style
	items  map[models.RoomType][]models.Item
}

// New returns the built-in catalog.
func New() *Catalog {
	return &Catalog{
		styles: defaultStyles(),
		items:  defaultItems(),
	}
}

// ListStyles returns every style in catalog order.
func (c *Catalog) ListStyles() []models.Style {
	out := make([]models.Style, len(c.styles))
	copy(out, c.styles)
	return out
}

// ListItems returns the items offered for roomType.
// Unknown room types yield an empty slice (never nil).
func (c *Catalog) ListItems(roomType models.RoomType) []models.Item {
	src := c.items[roomType]
	out := make([]models.Item, 0, len(src))
	for _, it := range src {
		it.ApplicableRoomTypes = append([]models.RoomType(nil), it.ApplicableRoomTypes...)
		out = append(out, it)
	}
	return out
}

func defaultStyles() []models.Style {
	return []models.Style{
		{ID: models.StyleNordic, Name: "Nordic", ThumbnailRef: "catalog/styles/nordic.jpg",
			Description: "Light woods, white walls and soft textiles."},
		{ID: models.StyleMinimal, Name: "Minimal", ThumbnailRef: "catalog/styles/minimal.jpg",
			Description: "Few pieces, clean lines and neutral tones."},
		{ID: models.StyleIndustrial, Name: "Industrial", ThumbnailRef: "catalog/styles/industrial.jpg",
			Description: "Exposed brick, dark metal and reclaimed wood."},
		{ID: models.StyleMediterranean, Name: "Mediterranean", ThumbnailRef: "catalog/styles/mediterranean.jpg",
			Description: "Terracotta, natural fibres and blue accents."},
		{ID: models.StyleClassic, Name: "Classic", ThumbnailRef: "catalog/styles/classic.jpg",
			Description: "Upholstered pieces, mouldings and warm lighting."},
	}
}

func item(id, name string, cat models.ItemCategory, rooms ...models.RoomType) models.Item {
	return models.Item{
		ID:                  id,
		Name:                name,
		Category:            cat,
		PreviewRef:          "catalog/items/" + id + ".png",
		ApplicableRoomTypes: rooms,
	}
}

func defaultItems() map[models.RoomType][]models.Item {
	return map[models.RoomType][]models.Item{
		models.RoomLivingRoom: {
			item("sofa-3p", "Three-seat sofa", models.CategorySofa, models.RoomLivingRoom),
			item("mesa-centro", "Coffee table", models.CategoryTable, models.RoomLivingRoom),
			item("sillon", "Armchair", models.CategoryChair, models.RoomLivingRoom, models.RoomBedroom),
			item("lampara-pie", "Floor lamp", models.CategoryLamp, models.RoomLivingRoom, models.RoomBedroom),
			item("alfombra", "Rug", models.CategoryDecor, models.RoomLivingRoom, models.RoomBedroom),
			item("estanteria", "Bookshelf", models.CategoryDecor, models.RoomLivingRoom),
		},
		models.RoomKitchen: {
			item("mesa-comedor", "Dining table", models.CategoryTable, models.RoomKitchen),
			item("taburete", "Bar stool", models.CategoryChair, models.RoomKitchen),
			item("lampara-colgante", "Pendant lamp", models.CategoryLamp, models.RoomKitchen),
			item("plantas", "Herb planters", models.CategoryDecor, models.RoomKitchen, models.RoomTerrace),
		},
		models.RoomBedroom: {
			item("cama-doble", "Double bed", models.CategoryBed, models.RoomBedroom),
			item("mesita", "Nightstand", models.CategoryTable, models.RoomBedroom),
			item("lampara-mesa", "Table lamp", models.CategoryLamp, models.RoomBedroom),
			item("sillon", "Armchair", models.CategoryChair, models.RoomLivingRoom, models.RoomBedroom),
			item("alfombra", "Rug", models.CategoryDecor, models.RoomLivingRoom, models.RoomBedroom),
		},
		models.RoomBathroom: {
			item("toallas", "Towel set", models.CategoryDecor, models.RoomBathroom),
			item("espejo", "Round mirror", models.CategoryDecor, models.RoomBathroom),
			item("aplique", "Wall sconce", models.CategoryLamp, models.RoomBathroom),
		},
		models.RoomTerrace: {
			item("sofa-exterior", "Outdoor sofa", models.CategorySofa, models.RoomTerrace),
			item("mesa-exterior", "Outdoor table", models.CategoryTable, models.RoomTerrace),
			item("tumbona", "Sun lounger", models.CategoryChair, models.RoomTerrace),
			item("plantas", "Herb planters", models.CategoryDecor, models.RoomKitchen, models.RoomTerrace),
		},
		models.RoomOther: {
			item("escritorio", "Desk", models.CategoryTable, models.RoomOther),
			item("silla-oficina", "Office chair", models.CategoryChair, models.RoomOther),
			item("lampara-mesa", "Table lamp", models.CategoryLamp, models.RoomBedroom, models.RoomOther),
		},
	}
}
