// Package options holds the shared static choice tables: built-in avatar
// pictures and chat theme gradients. Other packages validate user input
// against these instead of carrying their own copies.
package options

// Avatar is a built-in profile picture. The id is what gets persisted on
// the user row; the path points into the bundled asset set.
type Avatar struct {
	ID   int
	Path string
}

// Avatars is the selectable profile picture set, in display order.
var Avatars = []Avatar{
	{ID: 1, Path: "assets/avatars/classic-01.jpg"},
	{ID: 2, Path: "assets/avatars/classic-02.jpg"},
	{ID: 3, Path: "assets/avatars/cartoon-01.webp"},
	{ID: 4, Path: "assets/avatars/cartoon-02.webp"},
	{ID: 5, Path: "assets/avatars/abstract-01.jpg"},
	{ID: 6, Path: "assets/avatars/abstract-02.jpg"},
	{ID: 7, Path: "assets/avatars/animal-01.jpg"},
	{ID: 8, Path: "assets/avatars/animal-02.jpg"},
}

// AvatarByID looks up a built-in avatar.
func AvatarByID(id int) (Avatar, bool) {
	for _, a := range Avatars {
		if a.ID == id {
			return a, true
		}
	}
	return Avatar{}, false
}

// Theme is a named background gradient for the conversation view.
type Theme struct {
	Name string
	From string // hex color at the top
	To   string // hex color at the bottom
}

// DefaultTheme is applied when nothing is persisted.
const DefaultTheme = "default"

// Themes is the selectable theme set.
var Themes = []Theme{
	{Name: DefaultTheme, From: "#0b141a", To: "#0b141a"},
	{Name: "ocean", From: "#1a2980", To: "#26d0ce"},
	{Name: "sunset", From: "#ff512f", To: "#f09819"},
	{Name: "forest", From: "#134e5e", To: "#71b280"},
	{Name: "midnight", From: "#232526", To: "#414345"},
}

// ThemeByName looks up a theme.
func ThemeByName(name string) (Theme, bool) {
	for _, t := range Themes {
		if t.Name == name {
			return t, true
		}
	}
	return Theme{}, false
}
