package category

import "github.com/mcoot/outlier/internal/model"

// defaultCategories is the built-in category table
var defaultCategories = []model.Category{
	{Name: "Animals", Words: []string{
		"Elephant", "Tiger", "Penguin", "Dolphin", "Koala", "Giraffe", "Kangaroo", "Octopus",
		"Zebra", "Owl", "Crocodile", "Panda", "Flamingo", "Wolf", "Hedgehog", "Shark",
	}},
	{Name: "Countries", Words: []string{
		"Japan", "Brazil", "Australia", "France", "Egypt", "Canada", "Mexico", "India",
		"Italy", "Kenya", "Norway", "Argentina", "Vietnam", "Greece", "Peru", "Iceland",
	}},
	{Name: "Foods", Words: []string{
		"Pizza", "Sushi", "Pasta", "Burger", "Taco", "Curry", "Pancake", "Chocolate",
		"Dumpling", "Croissant", "Paella", "Ramen", "Falafel", "Lasagne", "Burrito", "Cheesecake",
	}},
	{Name: "Sports", Words: []string{
		"Soccer", "Basketball", "Tennis", "Swimming", "Volleyball", "Golf", "Cricket", "Surfing",
		"Rugby", "Boxing", "Skiing", "Baseball", "Cycling", "Fencing", "Rowing", "Archery",
	}},
	{Name: "Movies", Words: []string{
		"Avatar", "Titanic", "Star Wars", "Inception", "Frozen", "Avengers", "Matrix", "Jurassic Park",
		"Jaws", "Shrek", "Casablanca", "Gladiator", "Toy Story", "Rocky", "Alien", "Up",
	}},
	{Name: "Professions", Words: []string{
		"Doctor", "Teacher", "Chef", "Pilot", "Artist", "Engineer", "Firefighter", "Scientist",
		"Lawyer", "Plumber", "Nurse", "Architect", "Farmer", "Journalist", "Dentist", "Librarian",
	}},
	{Name: "Musical Instruments", Words: []string{
		"Piano", "Guitar", "Violin", "Drums", "Trumpet", "Flute", "Harp", "Saxophone",
		"Cello", "Accordion", "Banjo", "Clarinet", "Ukulele", "Tuba", "Harmonica", "Xylophone",
	}},
	{Name: "Weather", Words: []string{
		"Rain", "Snow", "Hail", "Fog", "Thunder", "Lightning", "Tornado", "Hurricane",
		"Drizzle", "Sleet", "Rainbow", "Heatwave", "Blizzard", "Breeze", "Frost", "Monsoon",
	}},
	{Name: "Kitchen Items", Words: []string{
		"Spatula", "Whisk", "Kettle", "Toaster", "Colander", "Ladle", "Blender", "Frying Pan",
		"Rolling Pin", "Grater", "Tongs", "Peeler", "Oven Mitt", "Corkscrew", "Teapot", "Microwave",
	}},
	{Name: "Fairy Tales", Words: []string{
		"Cinderella", "Snow White", "Rapunzel", "Pinocchio", "Aladdin", "Rumpelstiltskin", "Thumbelina", "Goldilocks",
		"Little Red Riding Hood", "Hansel and Gretel", "Sleeping Beauty", "Peter Pan", "The Little Mermaid", "Jack and the Beanstalk",
	}},
}
