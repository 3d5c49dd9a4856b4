package templates

// Generic persona-grounded instruction, weighted to dominate each base pool.
const (
	genericOriginal = "Write a post about whatever is on your mind today, grounded in who you are: a {age}-year-old {job} from {location}."
	genericReply    = "Reply to {parent_author}'s post \"{parent_content}\" the way you naturally would, as a {age}-year-old {job}."
	genericThreaded = "{parent_author} replied \"{parent_content}\" to {grandparent_author}'s post \"{grandparent_content}\". Join the conversation in your own voice."
)

const genericWeight = 20

// Original is the pool for original posts.
var Original = []Weighted{
	{genericOriginal, genericWeight},
	{"Share a small moment from your day at work as a {job}.", 1},
	{"Write about something you love: {likes}.", 1},
	{"Complain, lightly, about something you dislike: {dislikes}.", 1},
	{"Talk about how you spent your free time recently. Your hobbies: {hobbies}.", 1},
	{"Describe something you noticed around {location} this week.", 1},
	{"Post about a dream you are working toward: {dreams}.", 1},
	{"Admit something that worries you lately. Your fears: {fears}.", 1},
	{"Share an opinion about your field, drawing on your background in {education}.", 1},
	{"Ask your followers a question related to {likes}.", 1},
	{"Give one piece of advice someone working as a {job} would know.", 1},
	{"Post a short, unpopular opinion about {dislikes}.", 1},
	{"Recommend something to your followers that fits your interest in {hobbies}.", 1},
	{"Reflect on how growing up or living in {location} shaped you.", 1},
	{"Write a hopeful post about where you want to be in five years. Dreams: {dreams}.", 1},
	{"Share a funny mistake you made recently as a {job}.", 1},
	{"Post a throwback memory connected to {education}.", 1},
	{"Write a late-night thought about {fears}.", 1},
	{"Hype up something you are excited about this week related to {likes}.", 1},
	{"Rate something you tried recently, in the spirit of someone who likes {likes} and dislikes {dislikes}.", 1},
}

// NewsOriginal frames a post around a news article.
var NewsOriginal = []Weighted{
	{"You just read \"{news_title}\" from {news_source}: {news_description}. Share your take on it as a {job} who cares about {likes}.", 3},
	{"React to the headline \"{news_title}\" ({news_source}). Keep it personal and mention why it matters to you.", 2},
	{"Tell your followers about \"{news_title}\" and ask what they think. Context: {news_description}.", 1},
}

// Reply is the pool for replies to a top-level post.
var Reply = []Weighted{
	{genericReply, genericWeight},
	{"Agree with {parent_author}'s post \"{parent_content}\" and add your own experience as a {job}.", 1},
	{"Politely push back on {parent_author}'s post \"{parent_content}\".", 1},
	{"Ask {parent_author} a follow-up question about \"{parent_content}\".", 1},
	{"Reply to \"{parent_content}\" with a related story from {location}.", 1},
	{"Respond to {parent_author} with a joke connected to \"{parent_content}\".", 1},
	{"Relate {parent_author}'s post \"{parent_content}\" back to your love of {likes}.", 1},
	{"Encourage {parent_author} after reading \"{parent_content}\".", 1},
	{"Share a quick tip related to \"{parent_content}\" from your background in {education}.", 1},
	{"Reply to \"{parent_content}\" admitting it touches on something you fear: {fears}.", 1},
	{"Tell {parent_author} how \"{parent_content}\" reminds you of your dream: {dreams}.", 1},
}

// ThreadedReply is the pool for replies to replies.
var ThreadedReply = []Weighted{
	{genericThreaded, genericWeight},
	{"Side with {grandparent_author} against {parent_author}'s reply \"{parent_content}\".", 1},
	{"Side with {parent_author}'s reply \"{parent_content}\" over {grandparent_author}'s original point.", 1},
	{"Try to find middle ground between {grandparent_author} (\"{grandparent_content}\") and {parent_author} (\"{parent_content}\").", 1},
	{"Bring the thread started by \"{grandparent_content}\" back on topic with your own view as a {job}.", 1},
	{"Make a light joke about how the thread went from \"{grandparent_content}\" to \"{parent_content}\".", 1},
	{"Ask both {grandparent_author} and {parent_author} a question that moves the discussion forward.", 1},
	{"Add a fact or experience from {location} that neither {grandparent_author} nor {parent_author} mentioned.", 1},
}

// Holiday is appended to every pool while a holiday is active.
var Holiday = []Weighted{
	{"It's almost {holiday}. Share how you plan to spend it.", 45},
	{"Post a memory of a past {holiday}.", 45},
	{"Write a {holiday} message to your followers.", 45},
	{"Share your honest, maybe unpopular, opinion about {holiday}.", 45},
	{"Describe how people around {location} celebrate {holiday}.", 45},
	{"Tie {holiday} to your work as a {job}.", 45},
	{"Post about a {holiday} tradition that fits your love of {likes}.", 45},
	{"Write about what {holiday} means to you this year.", 45},
	{"Ask your followers how they are celebrating {holiday}.", 45},
	{"Share a {holiday} wish connected to your dream: {dreams}.", 45},
}
