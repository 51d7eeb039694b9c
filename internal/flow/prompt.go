package flow

import "fmt"

const greeting = `Apresente-se exatamente assim: "Oi 😊 sou a Ana Clara! Como posso te ajudar hoje?" ` +
	`e em seguida pergunte o nome da pessoa. Não fale de produtos ainda.`

const askNameAgain = `Você ainda não sabe o nome da pessoa. Peça o nome de forma gentil, ` +
	`em uma frase curta. Não fale de produtos ainda.`

const searchInstruction = `A pessoa já se apresentou. Ajude a encontrar produtos: ` +
	`busque, leia as páginas e extraia de 2 a 3 produtos com links diretos.`

func askPhone(name string) string {
	return fmt.Sprintf(`Responda: "Prazer, %s! Pode me passar seu telefone?" Não fale de produtos ainda.`, name)
}

func askPhoneAgain(name string) string {
	return fmt.Sprintf(`O telefone informado não parece válido. Peça de novo a %s um telefone com DDD, `+
		`em uma frase curta e simpática.`, name)
}

func askIntent(name string) string {
	return fmt.Sprintf(`Os dados foram salvos. Responda: "Perfeito, %s! 😊 Me conta o que você está buscando?"`, name)
}
