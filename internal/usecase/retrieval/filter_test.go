package retrieval

import "testing"

func TestDenylistFilter(t *testing.T) {
	f := NewDenylistFilter()
	cases := []struct {
		name string
		text string
		want bool
	}{
		{"обычный текст", "Рассказываем, как команда запустила новый продукт.", true},
		{"пустой текст", "   ", false},
		{"голая ссылка", "https://t.me/somechannel/123", false},
		{"несколько голых ссылок", "https://a.example \n https://b.example", false},
		{"ссылка с подписью", "Подробности в статье: https://a.example", true},
		{"рецепт", "Ингредиенты: мука, сахар. Смешайте и поставьте в духовку.", false},
		{"одно кулинарное слово", "Наш рецепт успеха: дисциплина и система.", true},
		{"служебная навигация", "Переслано из другого канала, смотри закреп.", false},
		{"продолжение в другом посте", "Читать продолжение в следующем посте!", false},
	}
	for _, tc := range cases {
		if got := f.Relevant(tc.text); got != tc.want {
			t.Fatalf("%s: ожидали %v, получили %v", tc.name, tc.want, got)
		}
	}
}
